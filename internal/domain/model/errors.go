package model

import "errors"

// Sentinel kinds for domain validation errors.
var (
	ErrInvalidKey         = errors.New("invalid score key")
	ErrScoreOutOfRange    = errors.New("score out of range")
	ErrUnknownReference   = errors.New("unknown reference")
	ErrInvalidCompetition = errors.New("invalid competition")
)
