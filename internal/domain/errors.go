package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInvalidParams     = errors.New("invalid job params")
	ErrInvalidState      = errors.New("invalid job state")
	ErrTimeout           = errors.New("timeout")
	ErrUnknownPool       = errors.New("unknown credit pool")
)
