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

var (
	// ErrInvalidTransition is returned for an operation not allowed in
	// the current state.
	ErrInvalidTransition = fmt.Errorf("lifecycle: invalid state transition")
	// ErrTimeout is returned when a bounded register poll expires.
	ErrTimeout = fmt.Errorf("lifecycle: timeout")
	// ErrNoBlock is returned for accesses to an unknown register block.
	ErrNoBlock = fmt.Errorf("lifecycle: no such register block")
	// ErrRequirement is returned for inconsistent region requirements.
	ErrRequirement = fmt.Errorf("lifecycle: invalid region requirement")
)
