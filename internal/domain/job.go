package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// JobMessage is the queue payload that drives one processing run
type JobMessage struct {
	TaskID   string `json:"taskId"`
	FilePath string `json:"filePath"`

	// Delivery metadata, carried in AMQP headers rather than the body
	Attempt     int `json:"-"`
	MaxAttempts int `json:"-"`
}

// IsFinalAttempt reports whether no further redelivery will be scheduled
func (m *JobMessage) IsFinalAttempt() bool {
	return m.MaxAttempts <= 0 || m.Attempt >= m.MaxAttempts
}

// DecodeJobMessage parses and validates a queue message body
func DecodeJobMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if _, err := uuid.Parse(msg.TaskID); err != nil {
		return nil, fmt.Errorf("%w: taskId %q is not a UUID", ErrInvalidMessage, msg.TaskID)
	}

	if msg.FilePath == "" {
		return nil, fmt.Errorf("%w: filePath is empty", ErrInvalidMessage)
	}

	return &msg, nil
}
