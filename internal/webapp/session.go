package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/phillip-england/ccmetrics/internal/security"
	"go.uber.org/zap"
)

const (
	csrfCookieName  = "ccmetrics_csrf"
	flashCookieName = "ccmetrics_flash"
	csrfFormField   = "csrf_token"
	flashPurpose    = "flash"

	maxFlashMessage = 2048
	// Browsers drop cookies over 4096 bytes, name and attributes included.
	maxFlashCookie  = 4000
)

var csrfHeaders = []string{"X-CSRFToken", "X-CSRF-Token"}

type csrfSessionKey struct{}

type flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// csrfProtect gives every browser a random CSRF cookie and requires unsafe
// requests to carry the matching token.
func (s *Server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if c, err := r.Cookie(csrfCookieName); err == nil {
			sessionID = c.Value
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			if sessionID == "" {
				id, err := security.RandomToken(24)
				if err != nil {
					s.logger.Error("csrf cookie", zap.Error(err))
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				sessionID = id
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfSessionKey{}, sessionID)))
			return
		}

		token := requestCSRFToken(r)
		switch {
		case token == "":
			s.csrfFailure(w, r, "The CSRF token is missing.")
		case sessionID == "":
			s.csrfFailure(w, r, "The CSRF session token is missing.")
		case !s.signer.VerifyCSRF(sessionID, token):
			s.csrfFailure(w, r, "The CSRF token is invalid.")
		default:
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfSessionKey{}, sessionID)))
		}
	})
}

func requestCSRFToken(r *http.Request) string {
	for _, name := range csrfHeaders {
		if token := strings.TrimSpace(r.Header.Get(name)); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.PostFormValue(csrfFormField))
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request, reason string) {
	s.logger.Warn("csrf check failed", zap.String("path", r.URL.Path), zap.String("reason", reason))
	if isAJAX(r) {
		writeJSON(w, http.StatusBadRequest, submitResponse{Message: reason})
		return
	}
	http.Error(w, reason, http.StatusBadRequest)
}

func (s *Server) csrfToken(r *http.Request) string {
	id, _ := r.Context().Value(csrfSessionKey{}).(string)
	if id == "" {
		return ""
	}
	return s.signer.CSRFToken(id)
}

func (s *Server) setFlashes(w http.ResponseWriter, flashes []flash) {
	sealed, err := s.sealFlashes(flashes)
	if err != nil {
		s.logger.Error("encode flash", zap.Error(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sealFlashes signs the messages, shortening them until the cookie value fits
// under maxFlashCookie.
func (s *Server) sealFlashes(flashes []flash) (string, error) {
	for limit := maxFlashMessage; ; limit /= 2 {
		data, err := encodeFlashes(truncateFlashes(flashes, limit))
		if err != nil {
			return "", err
		}
		sealed := s.signer.Seal(flashPurpose, data)
		if len(sealed) < maxFlashCookie {
			return sealed, nil
		}
		if limit == 0 {
			return "", fmt.Errorf("%d flash messages do not fit in a cookie", len(flashes))
		}
	}
}

func truncateFlashes(flashes []flash, limit int) []flash {
	out := make([]flash, len(flashes))
	for i, f := range flashes {
		if len(f.Message) > limit {
			f.Message = strings.ToValidUTF8(f.Message[:limit], "") + "..."
		}
		out[i] = f
	}
	return out
}

func encodeFlashes(flashes []flash) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(flashes); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// takeFlashes returns the pending flash messages and clears the cookie.
func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request) []flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookieName, Value: "", Path: "/", MaxAge: -1})

	data, err := s.signer.Open(flashPurpose, c.Value)
	if err != nil {
		s.logger.Debug("discarding flash cookie", zap.Error(err))
		return nil
	}
	var flashes []flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		s.logger.Debug("discarding flash cookie", zap.Error(err))
		return nil
	}
	return flashes
}
