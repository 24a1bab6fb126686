// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package lifecycle

import (
	"fmt"
)

// State is the lifecycle state of an accelerator.
type State int32

const (
	// Unmapped is the initial state, no regions are mapped.
	Unmapped State = iota
	// Mapped means all required regions are mapped.
	Mapped
	// Isolated means the accelerator is disconnected from the bus.
	Isolated
	// Configured means the accelerator has been reset and set up for boot.
	Configured
	// Running means the accelerator has been started.
	Running
	// Stopped means the accelerator has been halted and regions unmapped.
	Stopped
	// Error is the terminal state after a failed operation.
	Error
)

var stateNames = map[State]string{
	Unmapped:   "Unmapped",
	Mapped:     "Mapped",
	Isolated:   "Isolated",
	Configured: "Configured",
	Running:    "Running",
	Stopped:    "Stopped",
	Error:      "Error",
}

// String returns the name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// States returns all states in order.
func States() []State {
	return []State{Unmapped, Mapped, Isolated, Configured, Running, Stopped, Error}
}
