package store

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateLabel  = errors.New("account label already registered")
	ErrInvalidAccount  = errors.New("invalid account")
	ErrPanelNotFound   = errors.New("panel not found")
	ErrInvalidPanel    = errors.New("invalid panel")
	ErrRuleNotFound    = errors.New("rule not found")
	ErrInvalidRule     = errors.New("invalid rule")
)
