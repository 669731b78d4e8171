package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"github.com/google/uuid"
)

// ReadingEvent is the wire form of a reading on the Kafka topic.
type ReadingEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	PileID    int64     `json:"pile_id"`
	Voltage   float64   `json:"voltage"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReadingEvent(r pile.Reading) ReadingEvent {
	return ReadingEvent{
		EventID:   uuid.New(),
		PileID:    r.PileID,
		Voltage:   r.Voltage,
		Timestamp: r.Timestamp,
	}
}

func (e ReadingEvent) Reading() pile.Reading {
	return pile.Reading{
		PileID:    e.PileID,
		Voltage:   e.Voltage,
		Timestamp: e.Timestamp,
	}
}

// Key partitions events by pile so one pile's readings stay ordered.
func (e ReadingEvent) Key() []byte {
	return []byte(strconv.FormatInt(e.PileID, 10))
}

func (e ReadingEvent) Validate() error {
	errFactory := errors.New()

	if e.EventID == uuid.Nil {
		return errFactory.WithMessage(ErrInvalidEvent, "missing event_id")
	}
	if e.PileID <= 0 {
		return errFactory.WithMessage(ErrInvalidEvent, "pile_id must be positive")
	}
	if e.Timestamp.IsZero() {
		return errFactory.WithMessage(ErrInvalidEvent, "missing timestamp")
	}
	return nil
}

func Encode(e ReadingEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.New().Wrap(ErrInvalidEvent, err)
	}
	return data, nil
}

// Decode parses and validates a message value.
func Decode(data []byte) (ReadingEvent, error) {
	var e ReadingEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ReadingEvent{}, errors.New().Wrap(ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return ReadingEvent{}, err
	}
	return e, nil
}
