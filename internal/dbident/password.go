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

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// GeneratedPasswordLength is the length of passwords issued to managed tenants
	GeneratedPasswordLength = 64
)

// GeneratePassword returns a random alphanumeric password that always
// satisfies ParseDBPassword.
func GeneratePassword() (DBPassword, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, GeneratedPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return DBPassword{}, fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return ParseDBPassword(string(buf))
}
