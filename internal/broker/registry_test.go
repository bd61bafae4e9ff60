package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/inventory"
)

type fakeSession struct {
	cn string

	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
}

func newFakeSession(cn string) *fakeSession {
	return &fakeSession{cn: cn}
}

func (s *fakeSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.closed {
		return errors.New("session closed")
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) CommonName() string {
	return s.cn
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSession) allFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSession) failSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func newTestRegistry() (*Registry, *inventory.Inventory) {
	inv := inventory.New()
	return NewRegistry(inv, "cth"), inv
}

func TestRegistryAddAndState(t *testing.T) {
	reg, _ := newTestRegistry()
	sess := newFakeSession("host-1")

	reg.Add(sess)

	st, ok := reg.State(sess)
	require.True(t, ok)
	assert.Equal(t, "host-1", st.CommonName)
	assert.Equal(t, TypeUndefined, st.Type)
	assert.Equal(t, StatusConnected, st.Status)
	assert.Empty(t, st.URI)
	assert.False(t, st.CreatedAt.IsZero())
	assert.False(t, reg.LoggedIn(sess))
}

func TestRegistryBind(t *testing.T) {
	reg, inv := newTestRegistry()
	sess := newFakeSession("host-1")
	reg.Add(sess)

	result, uri := reg.Bind(sess, "agent")
	assert.Equal(t, BindBound, result)
	assert.Equal(t, "cth://host-1/agent", uri)

	st, ok := reg.State(sess)
	require.True(t, ok)
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, "agent", st.Type)
	assert.Equal(t, uri, st.URI)
	assert.True(t, reg.LoggedIn(sess))
	assert.Equal(t, []string{uri}, inv.Find([]string{"cth://*/*"}))

	found, foundState, ok := reg.Lookup(uri)
	require.True(t, ok)
	assert.Same(t, sess, found.(*fakeSession))
	assert.Equal(t, uri, foundState.URI)
}

func TestRegistryBindTwiceOnSameSession(t *testing.T) {
	reg, _ := newTestRegistry()
	sess := newFakeSession("host-1")
	reg.Add(sess)

	result, _ := reg.Bind(sess, "agent")
	require.Equal(t, BindBound, result)

	result, uri := reg.Bind(sess, "controller")
	assert.Equal(t, BindAlreadyLoggedIn, result)
	assert.Equal(t, "cth://host-1/agent", uri)
}

func TestRegistryBindURITaken(t *testing.T) {
	reg, inv := newTestRegistry()
	first := newFakeSession("host-1")
	second := newFakeSession("host-1")
	reg.Add(first)
	reg.Add(second)

	result, _ := reg.Bind(first, "agent")
	require.Equal(t, BindBound, result)

	result, uri := reg.Bind(second, "agent")
	assert.Equal(t, BindURITaken, result)
	assert.Equal(t, "cth://host-1/agent", uri)

	// The first binding is untouched and the URI is still listed once.
	found, _, ok := reg.Lookup(uri)
	require.True(t, ok)
	assert.Same(t, first, found.(*fakeSession))
	assert.Equal(t, []string{uri}, inv.Find([]string{"cth://*/*"}))

	st, ok := reg.State(second)
	require.True(t, ok)
	assert.Equal(t, StatusConnected, st.Status)
}

func TestRegistryRemoveUnbinds(t *testing.T) {
	reg, inv := newTestRegistry()
	sess := newFakeSession("host-1")
	reg.Add(sess)
	_, uri := reg.Bind(sess, "agent")

	reg.Remove(sess)

	_, ok := reg.State(sess)
	assert.False(t, ok)
	_, _, ok = reg.Lookup(uri)
	assert.False(t, ok)
	assert.Equal(t, 0, inv.Size())
	assert.Equal(t, 0, reg.Count())

	// Idempotent.
	reg.Remove(sess)
}

func TestRegistryURIMapInvariant(t *testing.T) {
	reg, _ := newTestRegistry()

	sessions := []*fakeSession{
		newFakeSession("a"),
		newFakeSession("b"),
		newFakeSession("c"),
	}
	for _, s := range sessions {
		reg.Add(s)
		result, _ := reg.Bind(s, "agent")
		require.Equal(t, BindBound, result)
	}

	// Every bound URI maps to a ready session whose state points back at it.
	for _, s := range sessions {
		st, ok := reg.State(s)
		require.True(t, ok)
		require.Equal(t, StatusReady, st.Status)
		require.NotEmpty(t, st.URI)

		found, foundState, ok := reg.Lookup(st.URI)
		require.True(t, ok)
		assert.Same(t, s, found.(*fakeSession))
		assert.Equal(t, st.URI, foundState.URI)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg, _ := newTestRegistry()
	a := newFakeSession("a")
	b := newFakeSession("b")
	reg.Add(a)
	reg.Add(b)
	reg.Bind(a, "agent")

	reg.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())

	st, ok := reg.State(a)
	require.True(t, ok)
	assert.Equal(t, StatusClosing, st.Status)
}

func TestSerializeWriteReleasesOnPanic(t *testing.T) {
	st := newConnectionState("host-1", time.Now())

	func() {
		defer func() { recover() }()
		_ = st.SerializeWrite(func() error { panic("boom") })
	}()

	// The lock must have been released.
	done := make(chan struct{})
	go func() {
		_ = st.SerializeWrite(func() error { return nil })
		close(done)
	}()
	<-done
}
