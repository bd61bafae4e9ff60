package models

import (
	"encoding/json"
	"time"
)

// Message type URIs understood by the broker itself.
const (
	SchemaLogin             = "http://courier.io/schemas/loginschema"
	SchemaInventory         = "http://courier.io/schemas/inventoryschema"
	SchemaInventoryResponse = "http://courier.io/schemas/inventoryresponseschema"
	SchemaDestinationReport = "http://courier.io/schemas/destination_report"
)

// Hop stages appended while a message moves through the broker.
const (
	HopAcceptToQueue = "accept-to-queue"
	HopDeliver       = "deliver"
	HopRedelivery    = "redelivery"
)

type Hop struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the broker's wire message. Data is opaque to the broker except
// for the control schemas above.
type Envelope struct {
	ID                string          `json:"id"`
	Sender            string          `json:"sender"`
	Targets           []string        `json:"targets"`
	MessageType       string          `json:"message_type"`
	Expires           time.Time       `json:"expires"`
	DestinationReport bool            `json:"destination_report,omitempty"`
	Hops              []Hop           `json:"hops,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`

	// Target is the single expanded destination a delivery copy is bound
	// for. Set by the accept consumer, carried through redelivery. Empty on
	// messages that have not been expanded yet.
	Target string `json:"_target,omitempty"`
}

// AddHop appends a processing stage record. Hops are append-only.
func (e *Envelope) AddHop(stage string, at time.Time) {
	e.Hops = append(e.Hops, Hop{Stage: stage, Timestamp: at})
}

// Expired reports whether the envelope's TTL has passed.
func (e *Envelope) Expired(now time.Time) bool {
	return now.After(e.Expires)
}

// CopyForTarget returns a delivery copy of the envelope bound to a single
// expanded target. The hop trace is copied so per-copy appends do not share
// backing storage.
func (e Envelope) CopyForTarget(target string) Envelope {
	c := e
	c.Target = target
	c.Hops = make([]Hop, len(e.Hops), len(e.Hops)+2)
	copy(c.Hops, e.Hops)
	return c
}

func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
