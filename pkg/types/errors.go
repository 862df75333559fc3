package types

import "errors"

var (
	ErrInvalidIdentifier = errors.New("user ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrMalformedPayload  = errors.New("invalid message format")
	ErrEmptyText         = errors.New("message text cannot be empty")
	ErrTextTooLong       = errors.New("message text exceeds 1000 characters")
	ErrPersistence       = errors.New("message could not be saved")
)
