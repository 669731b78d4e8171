package stream

import "codeberg.org/mutker/pilewatch/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrInvalidEvent   = errors.ErrorCode("stream_invalid_event")
	ErrPublishFailed  = errors.ErrorCode("stream_publish_failed")
	ErrConsumeFailed  = errors.ErrorCode("stream_consume_failed")
	ErrStreamShutdown = errors.ErrShutdownFailed
)
