package models

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient platform balance")
	ErrInvalidAmount       = errors.New("invalid amount")
)
