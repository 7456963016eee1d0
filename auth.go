// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the decoded token payload placed into Context.User on a
// successful auth check.
type Principal struct {
	Subject string
	Roles   []string
	Claims  map[string]any
}

// TokenVerifier is the JWT library's role as an external collaborator:
// spec.md treats the JWT library itself as a pure function, out of scope.
// This interface is that function's boundary; JWTVerifier below is the
// default implementation backing it, wired to github.com/golang-jwt/jwt/v5.
type TokenVerifier interface {
	Verify(token string) (Principal, error)
}

// JWTVerifier verifies HS256-signed bearer tokens. Grounded in
// aras-group-co-aras-auth's internal/service/jwt_service.go, which wraps
// golang-jwt/jwt/v5 the same way: a shared secret, a claims struct, and a
// Verify step that turns library errors into domain ones.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a JWTVerifier over an HMAC secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(token string) (Principal, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return Principal{}, Wrap(KindAuthentication, "TOKEN_EXPIRED", "token expired", err)
		}
		return Principal{}, Wrap(KindAuthentication, "MALFORMED_TOKEN", "malformed or invalid token", err)
	}
	if !parsed.Valid {
		return Principal{}, Wrap(KindAuthentication, "MALFORMED_TOKEN", "malformed or invalid token", nil)
	}

	sub, _ := claims["sub"].(string)
	var roles []string
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return Principal{Subject: sub, Roles: roles, Claims: claims}, nil
}

// AuthOptions configures the "auth" middleware type.
type AuthOptions struct {
	Required      bool
	Roles         []string
	CheckAllRoles bool
}

// BuildAuth returns the "auth" middleware: it extracts the bearer token,
// verifies it, puts the decoded Principal into Context.User, and checks
// roles. Per §4.4/§7 and the design notes' resolved open question, auth
// ONLY normalizes JWT library failures into Authentication errors; role
// mismatches are raised directly as first-class Authorization errors,
// never re-wrapped as authentication failures.
func BuildAuth(o AuthOptions, verifier TokenVerifier) HandlerFunc {
	return func(c *Context) {
		header := c.Request.Header.Get("Authorization")
		if header == "" {
			if !o.Required {
				c.Next()
				return
			}
			c.WriteError(NewError(KindAuthentication, "MISSING_AUTH_HEADER", "missing authorization header"))
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.WriteError(NewError(KindAuthentication, "MALFORMED_AUTH_HEADER", "authorization header must use the Bearer scheme"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, prefix)

		principal, err := verifier.Verify(token)
		if err != nil {
			c.WriteError(AsError(err))
			c.Abort()
			return
		}
		c.User = principal

		if len(o.Roles) > 0 {
			if !hasRequiredRoles(principal.Roles, o.Roles, o.CheckAllRoles) {
				c.WriteError(NewError(KindAuthorization, "INSUFFICIENT_ROLE", "insufficient permissions"))
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

func hasRequiredRoles(have, want []string, all bool) bool {
	if all {
		for _, w := range want {
			if !slices.Contains(have, w) {
				return false
			}
		}
		return true
	}
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
