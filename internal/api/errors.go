package api

import "codeberg.org/mutker/pilewatch/internal/errors"

const (
	ErrServeFailed    = errors.ErrServeFailed
	ErrShutdownFailed = errors.ErrShutdownFailed
	ErrInvalidPileID  = errors.ErrorCode("invalid_pile_id")
)
