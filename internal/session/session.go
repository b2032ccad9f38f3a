// Package session keeps the per-browser state of the server: one entitlement
// manager, gate and payment reconciler per cookie.
package session

import (
	"container/list"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/gate"
	"github.com/Majboor/smart-presentation-builder/pkg/generation"
	"github.com/Majboor/smart-presentation-builder/pkg/payment"
)

const (
	// DefaultCookieName is the name of the session cookie
	DefaultCookieName = "slideai_session"

	// DefaultMaxSessions bounds the number of live sessions
	DefaultMaxSessions = 10000

	// DefaultTTL is how long an idle session is kept
	DefaultTTL = 24 * time.Hour

	sessionIDKey = "sid"
)

// ErrNoSession is returned by Lookup when the request carries no live session
var ErrNoSession = errors.New("no session")

// Session is the state owned by one browser session
type Session struct {
	ID         string
	Manager    *entitlement.Manager
	Gate       *gate.Gate
	Reconciler *payment.Reconciler
	Notices    *Notices

	lastSeen time.Time
}

// Config configures a Registry
type Config struct {
	// Store is shared by every session's manager (required)
	Store entitlement.Store

	// Secret authenticates the session cookie (required)
	Secret []byte

	// Generator and Gateway back each session's gate
	Generator generation.Generator
	Gateway   billing.Gateway

	// Verifier confirms payment redirects (optional)
	Verifier billing.Verifier

	// Logger (default: NoopLogger)
	Logger entitlement.Logger

	// Metrics (default: NoopMetrics)
	Metrics entitlement.Metrics

	// CircuitBreakerConfig wraps the shared store once for all sessions
	CircuitBreakerConfig *entitlement.CircuitBreakerConfig

	// CookieName (default: DefaultCookieName)
	CookieName string

	// Secure marks the cookie HTTPS-only
	Secure bool

	// MaxSessions caps live sessions; the least recently used is evicted (default: DefaultMaxSessions)
	MaxSessions int

	// TTL expires idle sessions (default: DefaultTTL)
	TTL time.Duration

	// MaxNotices bounds each session's notice queue (default: DefaultMaxNotices)
	MaxNotices int
}

// Registry is an LRU with idle expiry of live sessions keyed by cookie id
type Registry struct {
	config  Config
	store   entitlement.Store
	cookies *sessions.CookieStore
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*list.Element
	order    *list.List // front is most recently used
}

// NewRegistry creates a session registry
func NewRegistry(config Config) (*Registry, error) {
	if config.Store == nil {
		return nil, entitlement.ErrStoreUnavailable
	}
	if len(config.Secret) == 0 {
		return nil, errors.New("session secret is required")
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &entitlement.NoopMetrics{}
	}
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	store := config.Store
	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics := config.Metrics
		cb := entitlement.NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout,
			func(state entitlement.CircuitBreakerState) {
				metrics.RecordCircuitBreakerStateChange(string(state))
			})
		store = entitlement.NewCircuitBreakerStore(store, cb)
	}

	cookies := sessions.NewCookieStore(config.Secret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Registry{
		config:   config,
		store:    store,
		cookies:  cookies,
		now:      time.Now,
		sessions: make(map[string]*list.Element),
		order:    list.New(),
	}, nil
}

// Get returns the request's session, creating one and setting the cookie
// when the request has none or its session expired
func (r *Registry) Get(w http.ResponseWriter, req *http.Request) (*Session, error) {
	if sess, err := r.Lookup(req); err == nil {
		return sess, nil
	}

	sess, err := r.create()
	if err != nil {
		return nil, err
	}

	// A cookie that fails to decode yields a fresh session plus an error; overwrite it
	cookie, _ := r.cookies.Get(req, r.config.CookieName)
	cookie.Values[sessionIDKey] = sess.ID
	if err := cookie.Save(req, w); err != nil {
		r.remove(sess.ID)
		return nil, fmt.Errorf("failed to save session cookie: %w", err)
	}
	return sess, nil
}

// Lookup returns the request's live session without creating one
func (r *Registry) Lookup(req *http.Request) (*Session, error) {
	id := r.cookieID(req)
	if id == "" {
		return nil, ErrNoSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	sess := elem.Value.(*Session)
	now := r.now()
	if now.Sub(sess.lastSeen) > r.config.TTL {
		r.evictLocked(elem)
		return nil, ErrNoSession
	}
	sess.lastSeen = now
	r.order.MoveToFront(elem)
	return sess, nil
}

// Destroy logs the session out, forgets it and expires the cookie
func (r *Registry) Destroy(w http.ResponseWriter, req *http.Request) error {
	if sess, err := r.Lookup(req); err == nil {
		sess.Manager.SetIdentity(req.Context(), nil)
		r.remove(sess.ID)
	}

	cookie, _ := r.cookies.Get(req, r.config.CookieName)
	cookie.Options.MaxAge = -1
	delete(cookie.Values, sessionIDKey)
	return cookie.Save(req, w)
}

// Sweep evicts every expired session and returns how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for elem := r.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.Sub(elem.Value.(*Session).lastSeen) > r.config.TTL {
			r.evictLocked(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

func (r *Registry) cookieID(req *http.Request) string {
	cookie, err := r.cookies.Get(req, r.config.CookieName)
	if err != nil || cookie.IsNew {
		return ""
	}
	id, _ := cookie.Values[sessionIDKey].(string)
	return id
}

func (r *Registry) create() (*Session, error) {
	notices := NewNotices(r.config.MaxNotices)

	manager, err := entitlement.NewManager(r.store, entitlement.Config{
		Logger:   r.config.Logger,
		Metrics:  r.config.Metrics,
		Notifier: notices,
	})
	if err != nil {
		return nil, err
	}

	g, err := gate.New(gate.Config{
		Account:   manager,
		Generator: r.config.Generator,
		Gateway:   r.config.Gateway,
		Notifier:  notices,
		Logger:    r.config.Logger,
	})
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Manager: manager,
		Gate:    g,
		Reconciler: payment.NewReconciler(payment.Config{
			Verifier: r.config.Verifier,
			Notifier: notices,
			Logger:   r.config.Logger,
		}),
		Notices:  notices,
		lastSeen: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = r.order.PushFront(sess)
	for r.order.Len() > r.config.MaxSessions {
		r.evictLocked(r.order.Back())
	}
	return sess, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if elem, ok := r.sessions[id]; ok {
		r.evictLocked(elem)
	}
}

// evictLocked forgets the session. Caller holds r.mu.
func (r *Registry) evictLocked(elem *list.Element) {
	sess := elem.Value.(*Session)
	r.order.Remove(elem)
	delete(r.sessions, sess.ID)
	r.config.Logger.Debug("session evicted", entitlement.Field{Key: "session_id", Value: sess.ID})
}
