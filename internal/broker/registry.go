package broker

import (
	"sync"
	"time"

	"courier/internal/inventory"
	"courier/pkg/models"
)

// Registry holds the session and URI maps under one lock. Bind, Remove, and
// Lookup are linearizable with respect to each other; at any moment at most
// one session is bound to a URI, and a ready session's URI always maps back
// to it. Socket writes are not serialized here, that is the per-session
// write lock's job.
type Registry struct {
	mu        sync.Mutex
	sessions  map[Session]*ConnectionState
	uris      map[string]Session
	inventory *inventory.Inventory
	scheme    string
	now       func() time.Time
}

func NewRegistry(inv *inventory.Inventory, scheme string) *Registry {
	return &Registry{
		sessions:  make(map[Session]*ConnectionState),
		uris:      make(map[string]Session),
		inventory: inv,
		scheme:    scheme,
		now:       time.Now,
	}
}

// Add records a freshly upgraded session in status connected.
func (r *Registry) Add(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session] = newConnectionState(session.CommonName(), r.now())
}

// Remove unbinds and deletes the session. Unbinding the URI and deleting the
// session entry happen under one lock acquisition. Idempotent.
func (r *Registry) Remove(session Session) {
	r.mu.Lock()
	st, ok := r.sessions[session]
	var uri string
	if ok {
		if st.URI != "" {
			uri = st.URI
			delete(r.uris, uri)
		}
		delete(r.sessions, session)
	}
	r.mu.Unlock()

	if uri != "" {
		r.inventory.Forget(uri)
	}
}

// Bind transitions a session to ready under the URI derived from its common
// name and the declared type.
func (r *Registry) Bind(session Session, endpointType string) (BindResult, string) {
	r.mu.Lock()

	st, ok := r.sessions[session]
	if !ok {
		r.mu.Unlock()
		return BindURITaken, ""
	}

	if st.Status == StatusReady {
		uri := st.URI
		r.mu.Unlock()
		return BindAlreadyLoggedIn, uri
	}

	uri := models.EndpointURI(r.scheme, st.CommonName, endpointType)
	if _, taken := r.uris[uri]; taken {
		r.mu.Unlock()
		return BindURITaken, uri
	}

	st.Status = StatusReady
	st.Type = endpointType
	st.URI = uri
	r.uris[uri] = session
	r.mu.Unlock()

	r.inventory.Record(uri)
	return BindBound, uri
}

// Lookup resolves a bound URI to its session and a state snapshot.
func (r *Registry) Lookup(uri string) (Session, ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.uris[uri]
	if !ok {
		return nil, ConnectionState{}, false
	}
	return session, *r.sessions[session], true
}

// State returns a snapshot of the session's connection state.
func (r *Registry) State(session Session) (ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[session]
	if !ok {
		return ConnectionState{}, false
	}
	return *st, true
}

// LoggedIn reports whether the session has completed a login.
func (r *Registry) LoggedIn(session Session) bool {
	st, ok := r.State(session)
	return ok && st.Status == StatusReady
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll marks every session closing and closes its socket. Used on
// shutdown; the transport's teardown path performs the Remove.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for session, st := range r.sessions {
		st.Status = StatusClosing
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		_ = session.Close()
	}
}
