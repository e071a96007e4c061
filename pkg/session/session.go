package session

import (
	"context"
	"errors"
	"fmt"
	"github.com/Geniuskaa/team_registration/internal/config"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"net/http"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session is the server side state behind the session cookie. ExpiresAt is
// fixed when the session starts and never moves.
type Session struct {
	ID             string    `json:"id"`
	RegistrationID uuid.UUID `json:"registration_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Flashes        []string  `json:"flashes,omitempty"`
}

func (s *Session) HasIdentity() bool {
	return s != nil && s.RegistrationID != uuid.Nil
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// Registrar creates the registration a new identity points at.
type Registrar interface {
	CreateRegistration(ctx context.Context) (team.Registration, error)
}

type ctxKey struct{}

type holder struct {
	session *Session
}

type Manager struct {
	store      Store
	registrar  Registrar
	logger     *zap.Logger
	lifetime   time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewManager(store Store, registrar Registrar, conf config.Session, logger *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		registrar:  registrar,
		logger:     logger,
		lifetime:   conf.Lifetime(),
		cookieName: conf.CookieName,
		secure:     conf.CookieSecure,
		now:        time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Middleware resolves the session cookie once per request. Unknown or
// expired sessions are dropped here, so handlers only ever see live ones.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := &holder{session: m.load(r)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, h)))
	})
}

func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	s, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Error("session lookup failed", zap.Error(err))
		}
		return nil
	}

	if s.Expired(m.now()) {
		if err := m.store.Delete(r.Context(), s.ID); err != nil {
			m.logger.Warn("expired session cleanup failed", zap.Error(err))
		}
		return nil
	}
	return s
}

func current(ctx context.Context) *holder {
	h, _ := ctx.Value(ctxKey{}).(*holder)
	return h
}

// Identity returns the registration bound to the request's session.
func Identity(ctx context.Context) (uuid.UUID, bool) {
	h := current(ctx)
	if h == nil || !h.session.HasIdentity() {
		return uuid.Nil, false
	}
	return h.session.RegistrationID, true
}

// EnsureIdentity returns the registration of the current session, creating
// the registration (and the session) when there is none. existed reports
// whether the identity was already there.
func (m *Manager) EnsureIdentity(w http.ResponseWriter, r *http.Request) (id uuid.UUID, existed bool, err error) {
	if id, ok := Identity(r.Context()); ok {
		return id, true, nil
	}

	reg, err := m.registrar.CreateRegistration(r.Context())
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("EnsureIdentity failed: %w", err)
	}

	s := m.session(w, r)
	s.RegistrationID = reg.ID
	if err := m.store.Save(r.Context(), s); err != nil {
		return uuid.Nil, false, fmt.Errorf("EnsureIdentity failed: %w", err)
	}
	return reg.ID, false, nil
}

// AddFlash queues a one-time message for the next rendered page.
func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, msg string) {
	s := m.session(w, r)
	s.Flashes = append(s.Flashes, msg)
	if err := m.store.Save(r.Context(), s); err != nil {
		m.logger.Error("flash save failed", zap.Error(err))
	}
}

// Flashes pops the queued messages.
func (m *Manager) Flashes(r *http.Request) []string {
	h := current(r.Context())
	if h == nil || h.session == nil || len(h.session.Flashes) == 0 {
		return nil
	}
	msgs := h.session.Flashes
	h.session.Flashes = nil
	if err := m.store.Save(r.Context(), h.session); err != nil {
		m.logger.Error("flash save failed", zap.Error(err))
	}
	return msgs
}

// session returns the request's session, starting a new one with a fresh
// cookie if needed.
func (m *Manager) session(w http.ResponseWriter, r *http.Request) *Session {
	h := current(r.Context())
	if h != nil && h.session != nil {
		return h.session
	}

	now := m.now()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(m.lifetime)}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if h != nil {
		h.session = s
	}
	return s
}
