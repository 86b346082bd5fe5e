package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadySending    = errors.New("campaign is already sending or sent")
	ErrScheduleInPast    = errors.New("scheduled time is in the past")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotRetryable      = errors.New("only failed or bounced messages can be retried")
)
