// Copyright 2026 The OpenTrusty Authors
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

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Manager signs and verifies session tokens (HS256).
// It is the default adapter for the session subsystem; anything that can
// sign a Claims value can replace it.
type Manager struct {
	issuer   string
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewManager creates a new session token manager
func NewManager(issuer string, secret []byte, lifetime time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	return &Manager{
		issuer:   issuer,
		secret:   secret,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Sign issues a token for claims. iss, iat and exp are refreshed; every other
// claim is carried over as is.
func (m *Manager) Sign(claims Claims) (string, error) {
	now := m.now()

	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iss"] = m.issuer
	mc["iat"] = now.Unix()
	mc["exp"] = now.Add(m.lifetime).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims
func (m *Manager) Parse(tokenString string) (Claims, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, mc, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims := make(Claims, len(mc))
	for k, v := range mc {
		claims[k] = v
	}
	return claims, nil
}
