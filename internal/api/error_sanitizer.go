package api

import (
	"net/http"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// respondSafeError logs the internal error and sends only publicMsg to the
// client, so database details never leak into 5xx responses.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		logger.Error(publicMsg, "component", "api", "status", code, "error", internalErr)
	}
	respondJSON(w, code, map[string]string{"error": publicMsg})
}
