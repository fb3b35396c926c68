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

// Package dbident holds the value types that are allowed to be interpolated
// into DDL statements. PostgreSQL cannot bind parameters in CREATE DATABASE,
// CREATE USER or GRANT, so every value that reaches one of those statements
// must first be parsed into one of these types.
//
// Values are immutable and can only be obtained through a Parse function.
// A value that parsed successfully is safe to place inside a SQL identifier
// position or a single-quoted literal without further escaping.
package dbident

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a value fails validation
var ErrInvalidIdentifier = errors.New("invalid identifier")

// InvalidError describes which kind of value was rejected.
// The rejected input is deliberately not included.
type InvalidError struct {
	Kind   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}

func (e *InvalidError) Unwrap() error {
	return ErrInvalidIdentifier
}

// ManagedPrefix is prepended to the tenant id for managed database and role names
const ManagedPrefix = "tenant_"

var (
	namePattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)
	passwordPattern  = regexp.MustCompile(`^[A-Za-z0-9]{40,99}$`)
	parameterPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,63}$`)
	hostPattern      = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]{0,251}[A-Za-z0-9])?$`)
)

// DBName is a validated PostgreSQL database name
type DBName struct{ v string }

// ParseDBName validates s as a database name
func ParseDBName(s string) (DBName, error) {
	if !namePattern.MatchString(s) {
		return DBName{}, &InvalidError{Kind: "database name", Reason: "must start with a letter followed by up to 62 letters, digits or underscores"}
	}
	return DBName{v: s}, nil
}

func (n DBName) String() string { return n.v }

// IsZero reports whether n was never parsed
func (n DBName) IsZero() bool { return n.v == "" }

// DBUser is a validated PostgreSQL role name
type DBUser struct{ v string }

// ParseDBUser validates s as a role name
func ParseDBUser(s string) (DBUser, error) {
	if !namePattern.MatchString(s) {
		return DBUser{}, &InvalidError{Kind: "database user", Reason: "must start with a letter followed by up to 62 letters, digits or underscores"}
	}
	return DBUser{v: s}, nil
}

func (u DBUser) String() string { return u.v }

// IsZero reports whether u was never parsed
func (u DBUser) IsZero() bool { return u.v == "" }

// DBPassword is a validated role password.
// String returns the secret so it can be placed in CREATE USER; fmt's %#v and
// slog both see a redacted form.
type DBPassword struct{ v string }

// ParseDBPassword validates s as a password of 40 to 99 alphanumeric characters
func ParseDBPassword(s string) (DBPassword, error) {
	if !passwordPattern.MatchString(s) {
		return DBPassword{}, &InvalidError{Kind: "database password", Reason: "must be 40 to 99 alphanumeric characters"}
	}
	return DBPassword{v: s}, nil
}

func (p DBPassword) String() string { return p.v }

// GoString keeps the secret out of %#v output
func (p DBPassword) GoString() string { return "dbident.DBPassword{[REDACTED]}" }

// LogValue keeps the secret out of structured logs
func (p DBPassword) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

// IsZero reports whether p was never parsed
func (p DBPassword) IsZero() bool { return p.v == "" }

// DDLParameter is a generic token that may be interpolated into DDL
type DDLParameter struct{ v string }

// ParseDDLParameter validates s as a DDL token of letters, digits and underscores
func ParseDDLParameter(s string) (DDLParameter, error) {
	if !parameterPattern.MatchString(s) {
		return DDLParameter{}, &InvalidError{Kind: "ddl parameter", Reason: "must be 1 to 63 letters, digits or underscores"}
	}
	return DDLParameter{v: s}, nil
}

func (d DDLParameter) String() string { return d.v }

// Host is a validated hostname or IPv4 address
type Host struct{ v string }

// ParseHost validates s as a hostname
func ParseHost(s string) (Host, error) {
	if !hostPattern.MatchString(s) || strings.Contains(s, "..") {
		return Host{}, &InvalidError{Kind: "database host", Reason: "must be a hostname or IPv4 address"}
	}
	return Host{v: s}, nil
}

func (h Host) String() string { return h.v }

// IsZero reports whether h was never parsed
func (h Host) IsZero() bool { return h.v == "" }

// Port is a validated TCP port
type Port struct{ v uint16 }

// ParsePort validates s as a port number between 1 and 65535
func ParsePort(s string) (Port, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return Port{}, &InvalidError{Kind: "database port", Reason: "must be between 1 and 65535"}
	}
	return Port{v: uint16(n)}, nil
}

// PortFrom validates an integer port
func PortFrom(n int) (Port, error) {
	if n < 1 || n > 65535 {
		return Port{}, &InvalidError{Kind: "database port", Reason: "must be between 1 and 65535"}
	}
	return Port{v: uint16(n)}, nil
}

func (p Port) String() string { return strconv.Itoa(int(p.v)) }

// Int returns the port number
func (p Port) Int() int { return int(p.v) }

// ManagedNames derives the database and role name of a managed tenant.
// Both are "tenant_" followed by the tenant UUID without dashes.
func ManagedNames(id uuid.UUID) (DBName, DBUser) {
	s := ManagedPrefix + strings.ReplaceAll(id.String(), "-", "")
	return DBName{v: s}, DBUser{v: s}
}
