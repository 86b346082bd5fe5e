package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidToken is returned when a token fails decoding or signature checks.
var ErrInvalidToken = errors.New("invalid tracking token")

const (
	OpenPath        = "/track/open/"
	ClickPath       = "/track/click/"
	UnsubscribePath = "/track/unsubscribe/"
)

// Signer issues and verifies tracking tokens and builds absolute tracking URLs.
type Signer struct {
	signingKey []byte
	baseURL    string
}

// NewSigner creates a signer. baseURL is the public origin of the tracking
// service, e.g. "https://t.example.com".
func NewSigner(signingKey, baseURL string) *Signer {
	return &Signer{
		signingKey: []byte(signingKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the configured tracking origin.
func (s *Signer) BaseURL() string { return s.baseURL }

// Token returns the opaque token for open and unsubscribe URLs.
func (s *Signer) Token(messageID string) string {
	return s.encode(messageID)
}

// ClickToken returns the opaque token binding a message to a link target.
func (s *Signer) ClickToken(messageID, originalURL string) string {
	return s.encode(messageID + "|" + originalURL)
}

// OpenURL returns the pixel URL for a message.
func (s *Signer) OpenURL(messageID string) string {
	return s.baseURL + OpenPath + s.Token(messageID)
}

// ClickURL returns the redirect URL for a link in a message.
func (s *Signer) ClickURL(messageID, originalURL string) string {
	return s.baseURL + ClickPath + s.ClickToken(messageID, originalURL)
}

// UnsubscribeURL returns the one-click unsubscribe URL for a message.
func (s *Signer) UnsubscribeURL(messageID string) string {
	return s.baseURL + UnsubscribePath + s.Token(messageID)
}

// Verify resolves an open or unsubscribe token to its message id.
func (s *Signer) Verify(data, sig string) (string, error) {
	payload, err := s.decode(data, sig)
	if err != nil {
		return "", err
	}
	if payload == "" || strings.Contains(payload, "|") {
		return "", ErrInvalidToken
	}
	return payload, nil
}

// VerifyClick resolves a click token to its message id and original URL.
func (s *Signer) VerifyClick(data, sig string) (string, string, error) {
	payload, err := s.decode(data, sig)
	if err != nil {
		return "", "", err
	}
	messageID, originalURL, ok := strings.Cut(payload, "|")
	if !ok || messageID == "" || originalURL == "" {
		return "", "", ErrInvalidToken
	}
	return messageID, originalURL, nil
}

// encode produces "<base64 payload>/<signature>", matching the two path
// segments the HTTP routes expect.
func (s *Signer) encode(payload string) string {
	return fmt.Sprintf("%s/%s", base64.RawURLEncoding.EncodeToString([]byte(payload)), s.sign(payload))
}

func (s *Signer) decode(data, sig string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return "", ErrInvalidToken
	}
	payload := string(decoded)
	if !hmac.Equal([]byte(s.sign(payload)), []byte(sig)) {
		return "", ErrInvalidToken
	}
	return payload, nil
}

// sign creates an HMAC signature
func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
