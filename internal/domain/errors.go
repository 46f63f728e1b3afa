package domain

import "errors"

// Validation errors raised at the configuration boundary. The rotation engine
// never sees values that failed these checks.
var (
	ErrInvalidOffset          = errors.New("invalid utc offset")
	ErrInvalidSendTime        = errors.New("invalid send time")
	ErrInvalidRetentionPeriod = errors.New("invalid retention period")
	ErrInvalidWord            = errors.New("invalid word")
)
