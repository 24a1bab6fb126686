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

package heap

import "fmt"

var (
	ErrFailedOption       = fmt.Errorf("heap: failed to apply option")
	ErrNotInitialized     = fmt.Errorf("heap: allocator not initialized")
	ErrAlreadyInitialized = fmt.Errorf("heap: allocator already initialized")
	ErrInvalidRegion      = fmt.Errorf("heap: invalid region")
	ErrOutOfMemory        = fmt.Errorf("heap: out of memory")
	ErrInvalidFree        = fmt.Errorf("heap: invalid free")
)
