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

package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// Phase is a step of a provisioning flow
type Phase string

// Provisioning phases
const (
	PhaseValidating            Phase = "validating"
	PhaseTestingConnection     Phase = "testing_connection"
	PhaseCheckingEmpty         Phase = "checking_empty"
	PhaseGeneratingCredentials Phase = "generating_credentials"
	PhasePersisting            Phase = "persisting"
	PhaseCreatingDBObjects     Phase = "creating_db_objects"
	PhaseRegisteringPool       Phase = "registering_pool"
	PhaseMigrating             Phase = "migrating"
	PhaseDone                  Phase = "done"
	PhaseFailed                Phase = "failed"
)

// PhaseActivating is reported by activation failures, which are not sagas
const PhaseActivating Phase = "activating"

// Flows
const (
	FlowSelfHosted = "self_hosted"
	FlowManaged    = "managed"
	FlowResume     = "resume"
)

var (
	selfHostedPhases = []Phase{
		PhaseValidating,
		PhaseTestingConnection,
		PhaseCheckingEmpty,
		PhasePersisting,
		PhaseRegisteringPool,
		PhaseMigrating,
	}
	managedPhases = []Phase{
		PhaseGeneratingCredentials,
		PhasePersisting,
		PhaseCreatingDBObjects,
		PhaseRegisteringPool,
		PhaseMigrating,
	}
)

const eventFail = "fail"

// step is one unit of work bound to a phase. kind is reported when the
// error it returns does not already belong to the taxonomy.
type step struct {
	phase Phase
	kind  error
	run   func(ctx context.Context) error
}

// saga walks a linear sequence of phases. Phases are never skipped and
// completed phases are never undone.
type saga struct {
	flow     string
	machine  *fsm.FSM
	tenantID uuid.UUID
}

func newSaga(flow string, phases []Phase) *saga {
	s := &saga{flow: flow}

	events := make(fsm.Events, 0, len(phases)+1)
	failSrc := make([]string, 0, len(phases))
	for i, p := range phases {
		failSrc = append(failSrc, string(p))
		if i == 0 {
			continue
		}
		events = append(events, fsm.EventDesc{Name: string(p), Src: []string{string(phases[i-1])}, Dst: string(p)})
	}
	events = append(events,
		fsm.EventDesc{Name: string(PhaseDone), Src: []string{string(phases[len(phases)-1])}, Dst: string(PhaseDone)},
		fsm.EventDesc{Name: eventFail, Src: failSrc, Dst: string(PhaseFailed)},
	)

	s.machine = fsm.NewFSM(string(phases[0]), events, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			slog.DebugContext(ctx, "provisioning phase",
				logger.Flow(s.flow),
				logger.TenantID(s.tenantID.String()),
				logger.Phase(e.Dst),
			)
		},
	})
	return s
}

// Phase returns the current phase
func (s *saga) Phase() Phase {
	return Phase(s.machine.Current())
}

// execute runs steps in order. The first failing step moves the saga to
// PhaseFailed and is returned as a *ProvisioningError naming its phase.
func (s *saga) execute(ctx context.Context, steps []step) error {
	for _, st := range steps {
		if s.Phase() != st.phase {
			if err := s.machine.Event(ctx, string(st.phase)); err != nil {
				return fmt.Errorf("provisioning cannot enter %s from %s: %w", st.phase, s.Phase(), err)
			}
		}
		if err := st.run(ctx); err != nil {
			phase := s.Phase()
			_ = s.machine.Event(ctx, eventFail)
			return &ProvisioningError{
				TenantID: s.tenantID,
				Phase:    phase,
				Kind:     classify(err, st.kind),
				Err:      err,
			}
		}
	}
	return s.machine.Event(ctx, string(PhaseDone))
}
