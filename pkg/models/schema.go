package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateEnvelope checks the fields every message must carry before the
// broker will route it. The sender field is not checked here: the broker
// stamps it from the session binding on ingress.
func ValidateEnvelope(e *Envelope) error {
	if e == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "message envelope cannot be nil",
		}
	}

	if e.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "message ID is required",
		}
	}

	if _, err := uuid.Parse(e.ID); err != nil {
		return &ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("message ID must be a UUID: %v", err),
		}
	}

	if len(e.Targets) == 0 {
		return &ValidationError{
			Field:   "targets",
			Message: "at least one target is required",
		}
	}

	for i, t := range e.Targets {
		if t == "" {
			return &ValidationError{
				Field:   "targets",
				Message: fmt.Sprintf("target %d is empty", i),
			}
		}
	}

	if e.MessageType == "" {
		return &ValidationError{
			Field:   "message_type",
			Message: "message type is required",
		}
	}

	if e.Expires.IsZero() {
		return &ValidationError{
			Field:   "expires",
			Message: "expiry timestamp is required",
		}
	}

	return nil
}

// LoginRequest is the body of a loginschema message.
type LoginRequest struct {
	Type string `json:"type"`
}

// InventoryRequest is the body of an inventoryschema message.
type InventoryRequest struct {
	Query []string `json:"query"`
}

// InventoryResponse is the body of an inventoryresponseschema message.
type InventoryResponse struct {
	URIs []string `json:"uris"`
}

// DestinationReport is the body of a destination_report message: the URI set
// a wildcard send expanded to.
type DestinationReport struct {
	ID      string   `json:"id"`
	Targets []string `json:"targets"`
}

func DecodeLoginRequest(data json.RawMessage) (LoginRequest, error) {
	var req LoginRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return LoginRequest{}, &ValidationError{Field: "data", Message: err.Error()}
	}
	if req.Type == "" {
		return LoginRequest{}, &ValidationError{Field: "data.type", Message: "endpoint type is required"}
	}
	return req, nil
}

func DecodeInventoryRequest(data json.RawMessage) (InventoryRequest, error) {
	var req InventoryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return InventoryRequest{}, &ValidationError{Field: "data", Message: err.Error()}
	}
	if len(req.Query) == 0 {
		return InventoryRequest{}, &ValidationError{Field: "data.query", Message: "at least one query pattern is required"}
	}
	return req, nil
}
