package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const minSecretLength = 16

var ErrBadSignature = errors.New("signature mismatch")

// Signer issues and checks HMAC-SHA256 signatures under one server secret.
// CSRF tokens and flash cookies are both signed with it.
type Signer struct {
	key []byte
}

func NewSigner(secret string) (*Signer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("secret must be at least %d characters", minSecretLength)
	}
	return &Signer{key: []byte(secret)}, nil
}

// NewSecret returns a random hex secret, used when SECRET_KEY is unset.
func NewSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func RandomToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Signer) mac(purpose, value string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(purpose))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return h.Sum(nil)
}

// CSRFToken derives the form token for a browser's CSRF cookie value.
func (s *Signer) CSRFToken(sessionID string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac("csrf", sessionID))
}

func (s *Signer) VerifyCSRF(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}
	given, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(given, s.mac("csrf", sessionID)) == 1
}

// Seal encodes value together with its signature as "<payload>.<sig>".
func (s *Signer) Seal(purpose string, value []byte) string {
	payload := base64.RawURLEncoding.EncodeToString(value)
	sig := base64.RawURLEncoding.EncodeToString(s.mac(purpose, payload))
	return payload + "." + sig
}

func (s *Signer) Open(purpose, sealed string) ([]byte, error) {
	payload, sig, ok := strings.Cut(sealed, ".")
	if !ok {
		return nil, ErrBadSignature
	}
	given, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrBadSignature
	}
	if subtle.ConstantTimeCompare(given, s.mac(purpose, payload)) != 1 {
		return nil, ErrBadSignature
	}
	value, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return value, nil
}
