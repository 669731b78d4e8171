package config

import "codeberg.org/mutker/pilewatch/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
)
