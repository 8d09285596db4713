package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zxresearch/reportgate/internal/domain"
)

const (
	staticPrefix = "USER"
	checksumLen  = 32
)

// Principal is the authenticated caller: exactly one of the two fields is
// set. Static tokens carry an entitlement list in the token body; claims
// tokens carry an identity but no entitlements, so the entitlement check
// does not apply to them.
type Principal struct {
	StaticToken string
	Claims      jwt.MapClaims
}

// IsStatic reports whether the principal is a static entitlement token.
func (p Principal) IsStatic() bool { return p.StaticToken != "" }

// UserID returns the identity recorded on persisted documents: the
// username claim for claims tokens, the raw token string otherwise.
func (p Principal) UserID() string {
	if p.IsStatic() {
		return p.StaticToken
	}
	username, _ := p.Claims["username"].(string)
	return username
}

// Entitlements returns the collection identifiers encoded in a static
// token body. Claims tokens have none.
func (p Principal) Entitlements() ([]string, error) {
	if !p.IsStatic() {
		return nil, nil
	}
	parts := strings.Split(p.StaticToken, ".")
	if len(parts) < 3 {
		return nil, domain.ErrMalformedToken
	}
	return strings.Split(parts[1], ","), nil
}

// Gate validates bearer credentials against the shared secret. Validation
// is pure: no retries, no side effects.
type Gate struct {
	secret string
}

// NewGate creates a credential gate
func NewGate(secret string) *Gate {
	return &Gate{secret: secret}
}

// Verify classifies and validates a bearer credential. Tokens carrying
// the static prefix are checked against their keyed checksum; anything
// else must be a valid HS256 claims token with a username and an expiry.
func (g *Gate) Verify(token string) (Principal, error) {
	if strings.HasPrefix(token, staticPrefix) {
		if !g.verifyStatic(token) {
			return Principal{}, domain.ErrInvalidToken
		}
		return Principal{StaticToken: token}, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(g.secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, domain.ErrInvalidToken
	}
	if _, ok := claims["username"].(string); !ok {
		return Principal{}, domain.ErrInvalidToken
	}
	return Principal{Claims: claims}, nil
}

func (g *Gate) verifyStatic(token string) bool {
	if len(token) <= checksumLen {
		return false
	}
	body := token[:len(token)-checksumLen]
	sum := token[len(token)-checksumLen:]
	want := md5Hex(g.secret + body)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sum)) == 1
}

// IssueStaticToken mints a long-lived entitlement token:
// USER.<entitlements>.<random id> followed by the keyed checksum.
func (g *Gate) IssueStaticToken(entitlements []string) string {
	body := staticPrefix + "." + strings.Join(entitlements, ",") + "." + uuid.New().String()
	return body + md5Hex(g.secret+body)
}

// IssueAccessToken mints an expiring claims token for a username.
func (g *Gate) IssueAccessToken(username string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
