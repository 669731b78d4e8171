package generator

import "codeberg.org/mutker/pilewatch/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrInvalidInterval = errors.ErrInvalidInterval
	ErrTickFailed      = errors.ErrorCode("generator_tick_failed")
	ErrPublishFailed   = errors.ErrorCode("generator_publish_failed")
	ErrSeedFailed      = errors.ErrSeedFailed
	ErrInvalidProfiles = errors.ErrorCode("generator_invalid_profiles")
)
