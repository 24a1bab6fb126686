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

//go:build !linux

package region

import "fmt"

// Driver is not available on this platform.
type Driver struct{}

// OpenDriver always fails on this platform.
func OpenDriver(path string, _ Ioctls, _ ID) (*Driver, error) {
	return nil, fmt.Errorf("%w: no accelerator driver support (%s)", ErrNotSupported, path)
}

func (d *Driver) Lookup(id ID) (Info, error)                { return Info{}, ErrNotSupported }
func (d *Driver) Map(id ID, length uint64) (*Mapping, error) { return nil, ErrNotSupported }
func (d *Driver) Unmap(m *Mapping) error                     { return ErrNotSupported }
func (d *Driver) Close() error                               { return nil }
