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
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("k", 32))

func TestClaims_Subject(t *testing.T) {
	userID := uuid.New()
	c := NewClaims(userID)

	got, err := c.Subject()
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = Claims{}.Subject()
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = Claims{ClaimSubject: "not-a-uuid"}.Subject()
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestClaims_ActiveTenant(t *testing.T) {
	c := NewClaims(uuid.New())

	active, err := c.ActiveTenant()
	require.NoError(t, err)
	assert.Nil(t, active)

	tenantID := uuid.New()
	next := c.WithActiveTenant(tenantID)

	active, err = next.ActiveTenant()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, tenantID, *active)

	// original claim set is not modified
	active, err = c.ActiveTenant()
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = Claims{ClaimActiveTenant: 42}.ActiveTenant()
	assert.ErrorIs(t, err, ErrInvalidClaim)
}

func TestManager_SignParse(t *testing.T) {
	m, err := NewManager("tenancy", testSecret, time.Hour)
	require.NoError(t, err)

	userID := uuid.New()
	tenantID := uuid.New()
	claims := NewClaims(userID).WithActiveTenant(tenantID)
	claims["locale"] = "de-AT"

	token, err := m.Sign(claims)
	require.NoError(t, err)

	parsed, err := m.Parse(token)
	require.NoError(t, err)

	sub, err := parsed.Subject()
	require.NoError(t, err)
	assert.Equal(t, userID, sub)

	active, err := parsed.ActiveTenant()
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, tenantID, *active)
	assert.Equal(t, "de-AT", parsed["locale"])
}

// TestPurpose: Validates that tokens signed with another key, another algorithm, or past expiry are rejected.
// Scope: Unit Test
// Security: Session token integrity (CWE-347)
// Expected: Parse returns ErrTokenInvalid.
// Test Case ID: SES-01
func TestManager_RejectsTamperedTokens(t *testing.T) {
	m, err := NewManager("tenancy", testSecret, time.Hour)
	require.NoError(t, err)

	other, err := NewManager("tenancy", []byte(strings.Repeat("x", 32)), time.Hour)
	require.NoError(t, err)
	foreign, err := other.Sign(NewClaims(uuid.New()))
	require.NoError(t, err)

	_, err = m.Parse(foreign)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": uuid.NewString(), "iss": "tenancy"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(unsigned)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired, err := NewManager("tenancy", testSecret, time.Hour)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Sign(NewClaims(uuid.New()))
	require.NoError(t, err)
	_, err = m.Parse(old)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewManager_ShortSecret(t *testing.T) {
	_, err := NewManager("tenancy", []byte("short"), time.Hour)
	assert.Error(t, err)
}
