package handlers

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName  = "pix_checkout"
	referenceKey = "reference"
)

// OrderSession keeps the current order reference in a signed cookie.
type OrderSession struct {
	store sessions.Store
}

func NewOrderSession(secret []byte, secure bool) *OrderSession {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &OrderSession{store: store}
}

func (s *OrderSession) Remember(w http.ResponseWriter, r *http.Request, reference string) error {
	sess, _ := s.store.Get(r, sessionName)
	sess.Values[referenceKey] = reference
	return sess.Save(r, w)
}

// Reference returns the order reference stored in the cookie, or "".
func (s *OrderSession) Reference(r *http.Request) string {
	sess, err := s.store.Get(r, sessionName)
	if err != nil {
		return ""
	}
	ref, _ := sess.Values[referenceKey].(string)
	return ref
}

func (s *OrderSession) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, sessionName)
	delete(sess.Values, referenceKey)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
