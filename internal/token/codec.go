// Package token decodes bearer credentials into their claims payload.
//
// Signatures are NOT verified: the decoded claims are an identification and
// display convenience. Authorization is always enforced by the server.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed a token is present but its payload cannot be decoded.
var ErrMalformed = errors.New("malformed credential")

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Claims decoded token payload.
type Claims struct {
	ID  string // user id ("id" claim)
	Exp int64  // Unix seconds, 0 when absent
	Raw map[string]any
}

// Decode splits the token, base64url-decodes its payload segment and parses it.
// An empty token yields (nil, nil): no identity available, not an error.
func Decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, nil
	}

	// only the payload matters; the header and signature are never read
	parts := strings.Split(tokenString, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformed, len(parts))
	}
	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	mc := jwt.MapClaims{}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if mc == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}

	claims := &Claims{Raw: map[string]any(mc)}

	switch id := mc["id"].(type) {
	case nil:
	case string:
		claims.ID = id
	case json.Number:
		claims.ID = id.String()
	default:
		return nil, fmt.Errorf("%w: unsupported id claim type %T", ErrMalformed, id)
	}

	if raw, ok := mc["exp"]; ok && raw != nil {
		exp, err := toUnix(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		claims.Exp = exp
	}

	return claims, nil
}

func toUnix(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid exp claim %q", n)
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid exp claim %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported exp claim type %T", v)
	}
}

// ExpiresAt zero time when the token carries no expiry.
func (c *Claims) ExpiresAt() time.Time {
	if c == nil || c.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(c.Exp, 0)
}

// Expired compares exp*1000 against now in milliseconds. A token without
// exp (exp = 0) is always expired.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	return c.Exp*1000 <= now.UnixMilli()
}

// Encode builds a signed token carrying payload. Used by test harnesses and
// the fake API server; clients never mint tokens.
func Encode(payload map[string]any, key []byte) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(payload))
	s, err := t.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}
