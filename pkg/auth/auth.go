package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// Anonymous is the subject of connections that carry no token
const Anonymous = "anonymous"

// IdentityHeader carries the caller identity when no auth secret is configured
const IdentityHeader = "X-Beacon-Identity"

// Identity is the already-authenticated principal behind a connection
type Identity struct {
	Subject   string    `json:"sub"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
}

// Verifier checks the identity token presented on a WebSocket handshake.
// Tokens are HS256 JWTs signed by the web application with auth_secret.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier builds a verifier from the auth settings in cfg
func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{
		secret:   []byte(cfg.AuthSecret),
		required: cfg.AuthRequired,
	}
}

// Authenticate extracts and verifies the identity of a handshake request.
//
// Without a secret the service trusts the identity header (development
// setups behind the web application). With a secret, a present token must be
// valid; a missing token is accepted as anonymous unless auth is required.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	if len(v.secret) == 0 {
		if id := strings.TrimSpace(r.Header.Get(IdentityHeader)); id != "" {
			return Identity{Subject: id}, nil
		}
		return Identity{Subject: Anonymous}, nil
	}

	token := TokenFromRequest(r)
	if token == "" {
		if v.required {
			return Identity{}, fmt.Errorf("%w: missing token", types.ErrUnauthorized)
		}
		return Identity{Subject: Anonymous}, nil
	}
	return v.Verify(token)
}

// Verify parses a signed token and returns its identity
func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", types.ErrUnauthorized)
	}

	identity := Identity{
		Subject:   toString(claims["sub"]),
		Roles:     toStringSlice(claims["roles"]),
		ExpiresAt: toTime(claims["exp"]),
	}
	if identity.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", types.ErrUnauthorized)
	}
	return identity, nil
}

// Issue signs a token for subject that expires after ttl. The web
// application normally mints these; the CLI and tests use Issue.
func Issue(secret, subject string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TokenFromRequest returns the bearer token or the token query parameter.
// Browsers cannot set headers on WebSocket handshakes, hence the query form.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toStringSlice(v interface{}) []string {
	switch arr := v.(type) {
	case []interface{}:
		res := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				res = append(res, s)
			}
		}
		return res
	case []string:
		return arr
	}
	return nil
}

func toTime(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0)
	case int64:
		return time.Unix(t, 0)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	}
	return time.Time{}
}
