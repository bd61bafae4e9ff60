package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeBuilder assembles broker-originated messages (inventory responses,
// destination reports).
type EnvelopeBuilder struct {
	envelope Envelope
	dataErr  error
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{}
}

func (b *EnvelopeBuilder) WithSender(sender string) *EnvelopeBuilder {
	b.envelope.Sender = sender
	return b
}

func (b *EnvelopeBuilder) WithTargets(targets ...string) *EnvelopeBuilder {
	b.envelope.Targets = append([]string(nil), targets...)
	return b
}

func (b *EnvelopeBuilder) WithMessageType(messageType string) *EnvelopeBuilder {
	b.envelope.MessageType = messageType
	return b
}

func (b *EnvelopeBuilder) WithExpires(expires time.Time) *EnvelopeBuilder {
	b.envelope.Expires = expires
	return b
}

func (b *EnvelopeBuilder) WithData(body interface{}) *EnvelopeBuilder {
	data, err := json.Marshal(body)
	if err != nil {
		b.dataErr = fmt.Errorf("failed to marshal message body: %w", err)
		return b
	}
	b.envelope.Data = data
	return b
}

func (b *EnvelopeBuilder) Build() (Envelope, error) {
	if b.dataErr != nil {
		return Envelope{}, b.dataErr
	}
	if b.envelope.ID == "" {
		b.envelope.ID = uuid.New().String()
	}
	return b.envelope, nil
}
