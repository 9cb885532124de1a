// Copyright 2025 UMH Systems GmbH
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

package collector

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/airlink/pkg/metrics"
)

// machine is the lifecycle state machine of one collector. Transitions are
// only fired while the collector's state mutex is held, so the machine itself
// needs no locking beyond what looplab/fsm provides.
type machine struct {
	id  string
	log *zap.SugaredLogger
	fsm *fsm.FSM
}

func newMachine(id string, log *zap.SugaredLogger) *machine {
	m := &machine{
		id:  id,
		log: log,
	}
	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events([]fsm.EventDesc{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: EventStartDone, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: EventStartFail, Src: []string{StateStarting}, Dst: StateError},

			{Name: EventFault, Src: []string{StateRunning}, Dst: StateError},

			// The error state is recoverable: stop is accepted there too.
			{Name: EventStop, Src: []string{StateRunning, StateError}, Dst: StateStopping},
			{Name: EventStopDone, Src: []string{StateStopping}, Dst: StateIdle},
		}),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Infof("Collector %s entered %s state", m.id, e.Dst)
				metrics.SetCollectorState(m.id, e.Dst)
			},
		},
	)
	return m
}

func (m *machine) current() string {
	return m.fsm.Current()
}

func (m *machine) send(ctx context.Context, event string) error {
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("event %s in state %s: %w", event, m.fsm.Current(), err)
	}
	return nil
}
