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

package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers keep log keys identical across packages.

// HTTPRequest groups the request line of an access log entry
func HTTPRequest(requestID, method, path, remoteAddr string) slog.Attr {
	return slog.Group("http",
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", remoteAddr),
	)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// Elapsed is logged in milliseconds
func Elapsed(d time.Duration) slog.Attr {
	return slog.Int64("elapsed_ms", d.Milliseconds())
}

func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func TenantID(id string) slog.Attr {
	return slog.String("tenant_id", id)
}

func Phase(phase string) slog.Attr {
	return slog.String("phase", phase)
}

func Flow(flow string) slog.Attr {
	return slog.String("flow", flow)
}

func ProvisioningState(state string) slog.Attr {
	return slog.String("provisioning_state", state)
}

// DBTarget describes a database without its credentials
func DBTarget(host, name string) slog.Attr {
	return slog.Group("db", slog.String("host", host), slog.String("name", name))
}

func PoolSize(n int32) slog.Attr {
	return slog.Int("pool_size", int(n))
}

func MigrationVersion(v int64) slog.Attr {
	return slog.Int64("migration_version", v)
}

// Error logs err's message. A nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// ErrorKind is the taxonomy name of a tenancy error
func ErrorKind(kind string) slog.Attr {
	return slog.String("error_kind", kind)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
