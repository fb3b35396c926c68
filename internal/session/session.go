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
	"maps"

	"github.com/google/uuid"
)

// Claim names read or written by the tenancy core
const (
	ClaimSubject      = "sub"
	ClaimActiveTenant = "active_tenant"
)

// Domain errors
var (
	ErrMissingSubject = errors.New("session has no subject")
	ErrInvalidClaim   = errors.New("session claim is malformed")
	ErrTokenInvalid   = errors.New("session token invalid")
)

// Claims is the claim set carried by a session token.
// Unknown claims are preserved when the token is reissued.
type Claims map[string]any

// Subject returns the authenticated user id
func (c Claims) Subject() (uuid.UUID, error) {
	raw, ok := c[ClaimSubject].(string)
	if !ok || raw == "" {
		return uuid.Nil, ErrMissingSubject
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: sub: %v", ErrInvalidClaim, err)
	}
	return id, nil
}

// ActiveTenant returns the tenant the session is operating on, or nil when
// no tenant has been activated yet.
func (c Claims) ActiveTenant() (*uuid.UUID, error) {
	v, ok := c[ClaimActiveTenant]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: active_tenant is not a string", ErrInvalidClaim)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: active_tenant: %v", ErrInvalidClaim, err)
	}
	return &id, nil
}

// WithActiveTenant returns a copy of c whose active tenant is id.
// c itself is left untouched.
func (c Claims) WithActiveTenant(id uuid.UUID) Claims {
	out := make(Claims, len(c)+1)
	maps.Copy(out, c)
	out[ClaimActiveTenant] = id.String()
	return out
}

// NewClaims builds a claim set for a freshly authenticated user
func NewClaims(userID uuid.UUID) Claims {
	return Claims{
		ClaimSubject:      userID.String(),
		ClaimActiveTenant: nil,
	}
}
