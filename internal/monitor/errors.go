package monitor

import "codeberg.org/mutker/pilewatch/internal/errors"

const (
	ErrInvalidView  = errors.ErrInvalidView
	ErrPileNotFound = errors.ErrPileNotFound
	ErrSnapshot     = errors.ErrorCode("monitor_snapshot_failed")
	ErrHistory      = errors.ErrorCode("monitor_history_failed")
)
