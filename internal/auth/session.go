// Package auth issues and validates session tokens. A session token is a JWT
// carrying the user identity, the chosen provider, and the provider API key
// sealed with an AEAD so the key never leaves the server in clear text.
package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidSession is returned for tokens that fail validation.
	ErrInvalidSession = errors.New("invalid session token")
)

// SessionConfig holds token signing and sealing parameters.
type SessionConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Session is the decoded content of a valid session token.
type Session struct {
	UserID     string
	ProviderID string
	APIKey     string
}

// SessionClaims is the JWT claim set for session tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID     string `json:"uid"`
	ProviderID string `json:"pid"`
	SealedKey  string `json:"sk"`
}

// IssueSession creates a signed session token for the user.
func IssueSession(cfg *SessionConfig, userID, providerID, apiKey string) (string, error) {
	sealed, err := sealKey(cfg.Secret, apiKey)
	if err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}

	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		},
		UserID:     userID,
		ProviderID: providerID,
		SealedKey:  sealed,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSession validates a token and unseals the embedded API key.
func ParseSession(cfg *SessionConfig, tokenString string) (*Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return cfg.Secret, nil
	}, jwt.WithIssuer(cfg.Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidSession
	}

	apiKey, err := openKey(cfg.Secret, claims.SealedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	return &Session{
		UserID:     claims.UserID,
		ProviderID: claims.ProviderID,
		APIKey:     apiKey,
	}, nil
}

// sealKey encrypts an API key with XChaCha20-Poly1305 under a key derived
// from the session secret.
func sealKey(secret []byte, apiKey string) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(apiKey), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func openKey(secret []byte, sealed string) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed key too short")
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}
	return string(plain), nil
}

func newAEAD(secret []byte) (cipher.AEAD, error) {
	derived := sha256.Sum256(secret)
	aead, err := chacha20poly1305.NewX(derived[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return aead, nil
}
