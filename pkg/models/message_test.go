package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() Envelope {
	return Envelope{
		ID:          uuid.New().String(),
		Sender:      "cth://a/agent",
		Targets:     []string{"cth://b/agent"},
		MessageType: "http://courier.io/schemas/example",
		Expires:     time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond),
		Data:        json.RawMessage(`{"k":"v"}`),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := validEnvelope()
	env.AddHop(HopAcceptToQueue, time.Now().UTC().Truncate(time.Millisecond))

	data, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Sender, decoded.Sender)
	assert.Equal(t, env.Targets, decoded.Targets)
	assert.Equal(t, env.MessageType, decoded.MessageType)
	assert.True(t, env.Expires.Equal(decoded.Expires))
	assert.JSONEq(t, string(env.Data), string(decoded.Data))
	require.Len(t, decoded.Hops, 1)
	assert.Equal(t, HopAcceptToQueue, decoded.Hops[0].Stage)
}

func TestCopyForTargetDoesNotShareHops(t *testing.T) {
	env := validEnvelope()
	env.AddHop(HopAcceptToQueue, time.Now())

	a := env.CopyForTarget("cth://a/agent")
	b := env.CopyForTarget("cth://b/agent")

	a.AddHop(HopDeliver, time.Now())
	require.Len(t, b.Hops, 1)
	assert.Equal(t, "cth://a/agent", a.Target)
	assert.Equal(t, "cth://b/agent", b.Target)
}

func TestExpired(t *testing.T) {
	env := validEnvelope()
	assert.False(t, env.Expired(time.Now()))
	assert.True(t, env.Expired(env.Expires.Add(time.Second)))
}

func TestValidateEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Envelope)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Envelope) {}, wantErr: false},
		{name: "missing id", mutate: func(e *Envelope) { e.ID = "" }, wantErr: true},
		{name: "non-uuid id", mutate: func(e *Envelope) { e.ID = "not-a-uuid" }, wantErr: true},
		{name: "no targets", mutate: func(e *Envelope) { e.Targets = nil }, wantErr: true},
		{name: "empty target", mutate: func(e *Envelope) { e.Targets = []string{""} }, wantErr: true},
		{name: "missing type", mutate: func(e *Envelope) { e.MessageType = "" }, wantErr: true},
		{name: "missing expiry", mutate: func(e *Envelope) { e.Expires = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(&env)
			err := ValidateEnvelope(&env)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeLoginRequest(t *testing.T) {
	req, err := DecodeLoginRequest(json.RawMessage(`{"type":"agent"}`))
	require.NoError(t, err)
	assert.Equal(t, "agent", req.Type)

	_, err = DecodeLoginRequest(json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = DecodeLoginRequest(json.RawMessage(`{bad`))
	assert.Error(t, err)
}

func TestDecodeInventoryRequest(t *testing.T) {
	req, err := DecodeInventoryRequest(json.RawMessage(`{"query":["cth://*/agent"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"cth://*/agent"}, req.Query)

	_, err = DecodeInventoryRequest(json.RawMessage(`{"query":[]}`))
	assert.Error(t, err)
}

func TestURIHelpers(t *testing.T) {
	assert.Equal(t, "cth://host-1/agent", EndpointURI("cth", "host-1", "agent"))
	assert.Equal(t, "cth:///server", ServerURI("cth"))
	assert.Equal(t, "cth://broker-1/server", BrokerURI("cth", "broker-1"))

	assert.True(t, IsServerTarget("cth:///server", "cth"))
	assert.True(t, IsServerTarget("cth://broker-1/server", "cth"))
	assert.False(t, IsServerTarget("cth://a/agent", "cth"))
	assert.False(t, IsServerTarget("other:///server", "cth"))

	cn, typ, err := SplitEndpointURI("cth://host-1/agent")
	require.NoError(t, err)
	assert.Equal(t, "host-1", cn)
	assert.Equal(t, "agent", typ)

	_, _, err = SplitEndpointURI("garbage")
	assert.Error(t, err)
}

func TestEnvelopeBuilder(t *testing.T) {
	expires := time.Now().Add(10 * time.Second)
	env, err := NewEnvelopeBuilder().
		WithSender("cth:///server").
		WithTargets("cth://a/agent").
		WithMessageType(SchemaInventoryResponse).
		WithExpires(expires).
		WithData(InventoryResponse{URIs: []string{"cth://a/agent"}}).
		Build()
	require.NoError(t, err)

	assert.NoError(t, ValidateEnvelope(&env))
	assert.Equal(t, "cth:///server", env.Sender)

	var body InventoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, []string{"cth://a/agent"}, body.URIs)
}
