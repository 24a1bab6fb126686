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

package runtime

import (
	"fmt"
)

var (
	// ErrClosed is returned for operations on a closed device.
	ErrClosed = fmt.Errorf("runtime: device closed")
	// ErrNoMemory is returned for addresses outside of any device memory.
	ErrNoMemory = fmt.Errorf("runtime: address not in device memory")
	// ErrNoHostMemory is returned if host memory can't be allocated.
	ErrNoHostMemory = fmt.Errorf("runtime: host memory allocation not supported")
)
