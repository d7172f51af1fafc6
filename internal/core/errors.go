package core

import "errors"

// The coordinator and engine distinguish exactly these error classes;
// everything else is an invariant violation and panics.
var (
	ErrValidation            = errors.New("invalid order input")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInstrumentNotFound    = errors.New("instrument not found")
	ErrOrderTerminal         = errors.New("order already terminal")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPersistence           = errors.New("persistence unavailable")
	ErrEngineStopped         = errors.New("engine stopped")
)
