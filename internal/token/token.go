// Package token mints and verifies room access tokens.
//
// Tokens are HS256 JWTs in the LiveKit access-token layout: the API key is
// the issuer, the participant identity the subject, and a "video" grant
// names the room and what the holder may do in it. The same tokens gate the
// built-in WebRTC signaling endpoints via [Issuer.Authenticate].
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Defaults applied when a request leaves identity or room empty.
const (
	DefaultTTL      = 6 * time.Hour
	DefaultIdentity = "iphone"
	DefaultRoom     = "demo"
)

var (
	// ErrNoCredentials is returned when the issuer has no API key or secret.
	ErrNoCredentials = errors.New("token: api key and secret are required")

	// ErrRoomNotGranted is returned when a valid token does not allow
	// joining the requested room.
	ErrRoomNotGranted = errors.New("token: room not granted")
)

// VideoGrant is the room permission set carried in a token.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   bool   `json:"canPublish,omitempty"`
	CanSubscribe bool   `json:"canSubscribe,omitempty"`
}

// Claims is the decoded token payload.
type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
}

// Issuer signs and verifies tokens with one API key pair.
type Issuer struct {
	APIKey    string
	APISecret string
	// TTL is the token lifetime. Zero means DefaultTTL.
	TTL time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return DefaultTTL
}

func (i *Issuer) check() error {
	if i.APIKey == "" || i.APISecret == "" {
		return ErrNoCredentials
	}
	return nil
}

// Mint issues a token letting identity join, publish and subscribe in room.
// Empty arguments fall back to DefaultIdentity and DefaultRoom.
func (i *Issuer) Mint(identity, room string) (string, error) {
	if err := i.check(); err != nil {
		return "", err
	}
	if identity == "" {
		identity = DefaultIdentity
	}
	if room == "" {
		room = DefaultRoom
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.APIKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl())),
			ID:        uuid.NewString(),
		},
		Name: identity,
		Video: &VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.APISecret))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and validity window of raw and
// returns its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(i.APISecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.APIKey),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	return &claims, nil
}

// Authenticate verifies raw and requires a join grant for room. It returns
// the identity and display name the token carries.
func (i *Issuer) Authenticate(raw, room string) (identity, name string, err error) {
	claims, err := i.Verify(raw)
	if err != nil {
		return "", "", err
	}
	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room != room {
		return "", "", fmt.Errorf("%w: %q", ErrRoomNotGranted, room)
	}
	name = claims.Name
	if name == "" {
		name = claims.Subject
	}
	return claims.Subject, name, nil
}

// Handler serves GET /token?identity=&room= with {"token": "..."}.
func (i *Issuer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		q := r.URL.Query()
		tok, err := i.Mint(q.Get("identity"), q.Get("room"))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": tok})
	})
}
