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

package region

import "fmt"

var (
	ErrRegionNotFound     = fmt.Errorf("region: not found")
	ErrHardwareNotPresent = fmt.Errorf("%w: hardware not present", ErrRegionNotFound)
	ErrMapFailed          = fmt.Errorf("region: mapping failed")
	ErrOutOfBounds        = fmt.Errorf("region: access out of bounds")
	ErrMisaligned         = fmt.Errorf("region: misaligned access")
	ErrNotSupported       = fmt.Errorf("region: operation not supported")
	ErrClosed             = fmt.Errorf("region: directory closed")
)
