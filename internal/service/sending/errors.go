package sending

import (
	"errors"
	"fmt"
	"net/textproto"
	"regexp"
	"strings"
)

var (
	// ErrTransportUnavailable means the transport is unconfigured or unreachable.
	ErrTransportUnavailable = errors.New("mail transport unavailable")
)

// DeliveryError is a classified per-message send failure.
type DeliveryError struct {
	Bounce bool
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Bounce {
		return "hard bounce: " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify wraps a send error as a DeliveryError.
func Classify(err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Bounce: IsHardBounce(err), Err: err}
}

var (
	hardBounceCode   = regexp.MustCompile(`\b55[013]\b`)
	hardBounceStatus = regexp.MustCompile(`\b5\.1\.\d{1,3}\b`)
	hardBouncePhrase = []string{
		"mailbox unavailable",
		"mailbox not found",
		"user unknown",
		"unknown user",
		"no such user",
		"unknown recipient",
		"recipient address rejected",
		"invalid recipient",
		"address does not exist",
		"does not exist",
	}
)

// IsHardBounce reports whether err carries a permanent mailbox rejection:
// SMTP reply codes 550, 551 or 553, an enhanced status of 5.1.x, or
// equivalent wording.
func IsHardBounce(err error) bool {
	if err == nil {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Bounce
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case 550, 551, 553:
			return true
		}
		if hardBounceStatus.MatchString(tp.Msg) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	if hardBounceCode.MatchString(msg) || hardBounceStatus.MatchString(msg) {
		return true
	}
	for _, p := range hardBouncePhrase {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransportUnavailable, fmt.Sprintf(format, args...))
}
