package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

// SessionStore implements gorilla/sessions.Store on the SQLite database.
// The cookie carries only the signed session id.
type SessionStore struct {
	db      *DB
	codecs  []securecookie.Codec
	options *sessions.Options
}

// NewSessionStore creates a database-backed session store
func NewSessionStore(db *DB, keyPairs ...[]byte) *SessionStore {
	return &SessionStore{
		db:     db,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		options: &sessions.Options{
			Path:     "/",
			MaxAge:   3600,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}
}

// SetOptions sets the session options
func (s *SessionStore) SetOptions(options *sessions.Options) {
	s.options = options
}

// Get returns a session for the given name after adding it to the registry
func (s *SessionStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New creates a new session, loading stored values when the cookie is valid
func (s *SessionStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	sessionID := ""
	if err := securecookie.DecodeMulti(name, cookie.Value, &sessionID, s.codecs...); err != nil {
		return session, nil
	}

	data, err := s.load(sessionID)
	if err != nil || data == nil {
		return session, err
	}

	// JSON gives string keys; sessions.Values uses interface{} keys
	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return session, nil
	}
	for k, v := range values {
		session.Values[k] = v
	}

	session.ID = sessionID
	session.IsNew = false
	return session, nil
}

// Save persists the session and writes the cookie
func (s *SessionStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	values := make(map[string]interface{})
	for k, v := range session.Values {
		if key, ok := k.(string); ok {
			values[key] = v
		}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}

	expiresAt := s.db.now().Add(time.Duration(session.Options.MaxAge) * time.Second).Unix()
	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, data, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at
	`, session.ID, string(data), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// load returns nil data for unknown or expired sessions
func (s *SessionStore) load(sessionID string) ([]byte, error) {
	var data string
	err := s.db.QueryRow(`
		SELECT data FROM sessions
		WHERE session_id = ? AND expires_at > ?
	`, sessionID, s.db.now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// CleanupExpiredSessions removes expired sessions
func (s *SessionStore) CleanupExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, s.db.now().Unix())
	return err
}
