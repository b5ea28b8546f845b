package service

import "errors"

var (
	// ErrReauthorizationRequired means the refresh token was rejected and a
	// human has to connect the company again
	ErrReauthorizationRequired = errors.New("reauthorization required")
	ErrInvalidInput            = errors.New("invalid input")
)
