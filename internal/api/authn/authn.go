// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package authn issues and validates the JWT bearer tokens that gate
// the HTTP API, adapted from app/pkg/jwt and
// app/http/middleware/check_app_auth.go: the teacher's token carries a
// registered App row's identity, fastlane's carries a client_id drawn
// from a static, configured secret since the core has no client
// registry of its own (spec.md names the HTTP API as an external
// collaborator, not a core module).
package authn

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fastlane-run/fastlane/internal/e"
)

// ClientClaims identifies the caller a bearer token was issued to.
type ClientClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Issuer signs and validates ClientClaims against a single shared
// secret, the same HS256 scheme GenerateAppToken/ParseAppAuth use.
type Issuer struct {
	secret []byte
}

// New creates an Issuer over the given signing secret.
//
// Parameters:
//   - secret: HMAC signing secret; callers should source this from
//     Config.System.JwtSecret.
//
// Returns:
//   - *Issuer: initialized issuer.
func New(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// IssueToken signs a bearer token for clientID, valid for ttl.
//
// Parameters:
//   - clientID: caller identity embedded in the token.
//   - ttl: token validity duration.
//
// Returns:
//   - string: signed JWT.
//   - error: signing error.
func (i *Issuer) IssueToken(clientID string, ttl time.Duration) (string, error) {
	claims := ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "fastlane",
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates and decodes a bearer token.
//
// Parameters:
//   - token: raw JWT string from the Authorization header.
//
// Returns:
//   - *ClientClaims: decoded claims when the token is valid.
//   - error: parsing or signature validation error.
func (i *Issuer) Parse(token string) (*ClientClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ClientClaims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if parsed != nil {
		if claims, ok := parsed.Claims.(*ClientClaims); ok && parsed.Valid {
			return claims, nil
		}
	}
	return nil, err
}

// RequireAuth returns Gin middleware that validates the Authorization
// header and injects client_id into the request context, aborting
// with an error envelope on failure.
//
// Returns:
//   - gin.HandlerFunc: auth-gating middleware.
func (i *Issuer) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(401, gin.H{"code": e.ServerUnauthorized, "message": "missing Authorization header"})
			return
		}

		claims, err := i.Parse(token)
		if err != nil {
			code := e.ServerUnauthorized
			if err == jwt.ErrTokenExpired {
				code = e.ServerAuthorizationExpired
			}
			c.AbortWithStatusJSON(401, gin.H{"code": code, "message": err.Error()})
			return
		}

		c.Set("client_id", claims.ClientID)
		c.Next()
	}
}
