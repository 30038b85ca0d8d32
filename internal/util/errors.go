package util

import "errors"

var (
	ErrInvalidJSON      = errors.New("invalid json")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrUnauthorized     = errors.New("missing or invalid bearer token")
	ErrAccountsDisabled = errors.New("accounts are not configured")
)
