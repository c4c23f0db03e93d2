package settings

import "errors"

var (
	ErrAccountNotFound = errors.New("settings: account not found")
	ErrAccountExists   = errors.New("settings: account already exists")
	ErrInvalidAccount  = errors.New("settings: invalid account")
)
