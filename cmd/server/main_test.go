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

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ctxKey struct{}

// TestPurpose: Validates that a shutdown signal does not cancel requests already being served.
// Scope: Unit Test
// Security: Availability
// Expected: The request base context keeps parent values and stays live after the parent is cancelled.
// Test Case ID: SRV-01
func TestRequestBaseContext_IgnoresParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "server"))
	base := requestBaseContext(parent)(nil)

	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, base.Err())
	assert.Nil(t, base.Done())
	assert.Equal(t, "server", base.Value(ctxKey{}))
}
