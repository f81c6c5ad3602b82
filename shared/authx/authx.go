// Package authx verifies OIDC bearer tokens for operator endpoints.
// Signing keys come from the issuer's JWKS document and are cached
// in-process with a TTL so a key rotation is picked up without restart.
package authx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

// Role names the token must carry to hit mutating endpoints.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Principal is the identity extracted from a verified token.
type Principal struct {
	Subject string
	Email   string
	Name    string
	Roles   []string
	Claims  map[string]any
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier validates RS/ES signed JWTs against a cached JWKS key set.
type Verifier struct {
	issuer   string
	audience string
	keys     *keyCache
	parser   *jwt.Parser
}

func NewVerifier(issuer, audience, jwksURL string, ttlSeconds, clockSkewSeconds int) (*Verifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidToken)
	}
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if clockSkewSeconds < 0 {
		clockSkewSeconds = 0
	}
	return &Verifier{
		issuer:   issuer,
		audience: audience,
		keys:     newKeyCache(jwksURL, time.Duration(ttlSeconds)*time.Second, &http.Client{Timeout: 5 * time.Second}),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithLeeway(time.Duration(clockSkewSeconds)*time.Second),
		),
	}, nil
}

func (v *Verifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Principal{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid = strings.TrimSpace(kid); kid == "" {
			return nil, ErrUnknownKID
		}
		return v.keys.signingKey(ctx, kid)
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	// Tokens without the standard lifetime claims are rejected outright.
	if claims["exp"] == nil || claims["iss"] == nil || claims["aud"] == nil {
		return Principal{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(fmt.Sprint(claims["sub"]))
	if subject == "" {
		return Principal{}, ErrInvalidToken
	}

	name := strings.TrimSpace(fmt.Sprint(claims["name"]))
	if name == "" {
		name = strings.TrimSpace(fmt.Sprint(claims["preferred_username"]))
	}
	return Principal{
		Subject: subject,
		Email:   strings.TrimSpace(fmt.Sprint(claims["email"])),
		Name:    name,
		Roles:   rolesFromClaims(claims),
		Claims:  map[string]any(claims),
	}, nil
}

type keyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	byKID     map[string]any
	expiresAt time.Time
}

func newKeyCache(url string, ttl time.Duration, client *http.Client) *keyCache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &keyCache{url: url, ttl: ttl, client: client, byKID: map[string]any{}}
}

func (c *keyCache) signingKey(ctx context.Context, kid string) (any, error) {
	now := time.Now()
	c.mu.RLock()
	key := c.byKID[kid]
	fresh := now.Before(c.expiresAt)
	c.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// Serve a stale key rather than failing every request while
		// the issuer is briefly unreachable.
		c.mu.RLock()
		key = c.byKID[kid]
		c.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	c.mu.RLock()
	key = c.byKID[kid]
	c.mu.RUnlock()
	if key == nil {
		return nil, ErrUnknownKID
	}
	return key, nil
}

func (c *keyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return err
	}
	keys := make(map[string]any)
	iter := set.Iterate(ctx)
	for iter.Next(ctx) {
		key, ok := iter.Pair().Value.(jwk.Key)
		if !ok {
			continue
		}
		kid := strings.TrimSpace(key.KeyID())
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		keys[kid] = raw
	}
	if len(keys) == 0 {
		return errors.New("jwks document contains no usable keys")
	}

	c.mu.Lock()
	c.byKID = keys
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func rolesFromClaims(claims map[string]any) []string {
	var roles []string
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		roles = append(roles, role)
	}

	for _, key := range []string{"roles", "role"} {
		switch t := claims[key].(type) {
		case []string:
			for _, role := range t {
				add(role)
			}
		case []any:
			for _, role := range t {
				add(fmt.Sprint(role))
			}
		case string:
			for _, role := range strings.Fields(t) {
				add(role)
			}
		}
	}
	if s, ok := claims["scp"].(string); ok {
		for _, scope := range strings.Fields(s) {
			add(scope)
		}
	}
	return roles
}
