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

package mailbox

import (
	"fmt"
)

var (
	// ErrMailboxFull is returned by Put if there is no free slot.
	ErrMailboxFull = fmt.Errorf("mailbox: full")
	// ErrMailboxEmpty is returned by Get if there is nothing to read.
	ErrMailboxEmpty = fmt.Errorf("mailbox: empty")
	// ErrInvalidRing is returned if a ring can't be set up or attached.
	ErrInvalidRing = fmt.Errorf("mailbox: invalid ring")
	// ErrElementSize is returned for element buffers of the wrong size.
	ErrElementSize = fmt.Errorf("mailbox: element size mismatch")
)
