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

package metrics

import (
	"context"
	"time"

	"github.com/opentrusty/tenancy/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Recorder records provisioning and activation outcomes as OTel instruments.
// It implements tenant.Recorder.
type Recorder struct {
	provisioned metric.Int64Counter
	duration    metric.Float64Histogram
	activations metric.Int64Counter
}

// NewRecorder creates the tenancy instruments on meter
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	provisioned, err := newCounter(meter, "tenancy.provisioning.total",
		"Provisioning runs by flow, final phase and outcome")
	if err != nil {
		return nil, err
	}
	duration, err := newHistogram(meter, "tenancy.provisioning.duration",
		"Wall time of provisioning runs", "s")
	if err != nil {
		return nil, err
	}
	activations, err := newCounter(meter, "tenancy.activation.total",
		"Tenant activations by outcome")
	if err != nil {
		return nil, err
	}
	return &Recorder{provisioned: provisioned, duration: duration, activations: activations}, nil
}

// ProvisioningFinished records one provisioning run
func (r *Recorder) ProvisioningFinished(ctx context.Context, flow string, phase tenant.Phase, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("phase", string(phase)),
		attribute.String("outcome", outcome(err)),
		attribute.String("kind", tenant.KindName(err)),
	)
	r.provisioned.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// ActivationFinished records one activation attempt
func (r *Recorder) ActivationFinished(ctx context.Context, err error) {
	r.activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome(err)),
		attribute.String("kind", tenant.KindName(err)),
	))
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}
