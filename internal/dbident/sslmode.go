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

package dbident

// SSLMode is a libpq sslmode value, ordered from weakest to strongest
type SSLMode int

const (
	SSLDisable SSLMode = iota
	SSLAllow
	SSLPrefer
	SSLRequire
	SSLVerifyCA
	SSLVerifyFull
)

var sslModeNames = [...]string{
	SSLDisable:    "disable",
	SSLAllow:      "allow",
	SSLPrefer:     "prefer",
	SSLRequire:    "require",
	SSLVerifyCA:   "verify-ca",
	SSLVerifyFull: "verify-full",
}

// ParseSSLMode validates s as a libpq sslmode
func ParseSSLMode(s string) (SSLMode, error) {
	for i, name := range sslModeNames {
		if name == s {
			return SSLMode(i), nil
		}
	}
	return SSLDisable, &InvalidError{Kind: "ssl mode", Reason: "must be one of disable, allow, prefer, require, verify-ca, verify-full"}
}

func (m SSLMode) String() string {
	if m < SSLDisable || m > SSLVerifyFull {
		return sslModeNames[SSLVerifyFull]
	}
	return sslModeNames[m]
}

// AtLeast returns the stronger of m and required
func (m SSLMode) AtLeast(required SSLMode) SSLMode {
	if m < required {
		return required
	}
	return m
}
