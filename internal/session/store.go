package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const (
	stateCookieName   = "_oauth_state"
	sessionCookieName = "_session"

	sessionTTL = 8 * time.Hour
	stateTTL   = 5 * time.Minute
)

// MinSecretLength is the shortest accepted SESSION_SECRET.
const MinSecretLength = 32

var (
	// ErrNoSession is returned when the request carries no valid session.
	ErrNoSession = errors.New("session: no session")
	// ErrStateMismatch is returned when the OAuth state does not match the cookie.
	ErrStateMismatch = errors.New("session: state mismatch")
)

// Session is the signed-in browser session. ID identifies the mounted view
// and is distinct from the identity provider's subject.
type Session struct {
	ID      string `json:"id"`
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// Store reads and writes encrypted session cookies.
type Store struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// NewStore derives cookie keys from secret. secure marks cookies HTTPS-only.
func NewStore(secret string, secure bool) (*Store, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session: secret must be at least %d bytes", MinSecretLength)
	}
	hashKey := []byte(secret)
	blockKey := hashKey[:32]
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(sessionTTL.Seconds()))
	return &Store{codec: codec, secure: secure}, nil
}

// New starts a session for subject with a fresh view ID.
func (s *Store) New(subject, email string) Session {
	return Session{ID: uuid.NewString(), Subject: subject, Email: email}
}

// Load decodes the session cookie.
func (s *Store) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	var sess Session
	if err := s.codec.Decode(sessionCookieName, cookie.Value, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if sess.ID == "" || sess.Subject == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Save writes sess as the session cookie.
func (s *Store) Save(w http.ResponseWriter, sess Session) error {
	encoded, err := s.codec.Encode(sessionCookieName, sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionTTL),
	})
	return nil
}

// Clear expires the session cookie.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})
}

// BeginLogin stores a random OAuth state in a short-lived cookie and returns it.
func (s *Store) BeginLogin(w http.ResponseWriter) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("session: generate state: %w", err)
	}
	encoded, err := s.codec.Encode(stateCookieName, state)
	if err != nil {
		return "", fmt.Errorf("session: encode state: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(stateTTL),
	})
	return state, nil
}

// VerifyState checks the state echoed by the identity provider against the
// state cookie.
func (s *Store) VerifyState(r *http.Request, got string) error {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return fmt.Errorf("%w: missing state cookie", ErrStateMismatch)
	}
	var expected string
	if err := s.codec.Decode(stateCookieName, cookie.Value, &expected); err != nil {
		return fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	if got == "" || got != expected {
		return ErrStateMismatch
	}
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
