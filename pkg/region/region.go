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

// Package region implements access to the physically addressed memory
// regions an accelerator shares with the host.
//
// # Directory
//
// A Directory resolves a small integer region identifier to the physical
// base and size of the region, and maps the region into the address space
// of the calling process. On real hardware the directory is the kernel
// driver's character device (see Driver). For tests and for running without
// hardware, Simulated provides the same contract over ordinary memory.
//
// A region can be declared in the platform description but missing from
// the actual hardware. The driver reports such regions with a zero size.
// Lookup turns this into ErrHardwareNotPresent, which also matches
// ErrRegionNotFound, so callers can decide whether the region is optional.
//
// # Windows
//
// Mapped memory is only ever accessed through a Window. A Window knows both
// the virtual address of the mapping in this process and the physical
// address the device uses for the same bytes, and provides bounds-checked,
// naturally aligned 32- and 64-bit accessors for registers and shared
// data structures.
package region

import (
	"fmt"
)

// ID identifies a region in the driver's directory. By convention the
// mmap page offset of a region is its ID.
type ID int32

// Sentinel is the value the driver reads back from the first word of a
// region which is declared but not present in hardware.
const Sentinel = 0xbadcab1e

// Info describes a region as known by the directory.
type Info struct {
	ID   ID
	Phys uint64
	Size uint64
}

// Absent returns true if the info describes a region missing from hardware.
func (i Info) Absent() bool {
	return i.Size == 0 || i.Size == Sentinel || i.Phys == Sentinel
}

// String returns a string representation of the info.
func (i Info) String() string {
	return fmt.Sprintf("region #%d [0x%x, 0x%x)", i.ID, i.Phys, i.Phys+i.Size)
}

// Pointer is an address known both to the host and to the device. Phys is
// always valid. Virt is only valid in the host process which created the
// mapping and is zero in address spaces without a virtual view.
type Pointer struct {
	Virt uintptr
	Phys uint64
}

// IsNil returns true for the zero Pointer.
func (p Pointer) IsNil() bool {
	return p.Virt == 0 && p.Phys == 0
}

// Add returns the pointer advanced by off bytes.
func (p Pointer) Add(off uint64) Pointer {
	q := Pointer{Phys: p.Phys + off}
	if p.Virt != 0 {
		q.Virt = p.Virt + uintptr(off)
	}
	return q
}

// String returns a string representation of the pointer.
func (p Pointer) String() string {
	return fmt.Sprintf("virt 0x%x/phys 0x%x", p.Virt, p.Phys)
}

// Mapping is a region mapped into the address space of this process.
type Mapping struct {
	*Window
	Info Info
}

// Directory is the interface the runtime uses to find and map regions.
type Directory interface {
	// Lookup returns the physical base and size of the given region.
	Lookup(id ID) (Info, error)
	// Map maps length bytes of the given region. A zero length maps the
	// whole region.
	Map(id ID, length uint64) (*Mapping, error)
	// Unmap releases a mapping created by Map or AllocDMA.
	Unmap(m *Mapping) error
	// Close releases the directory itself.
	Close() error
}

// DMAAllocator is implemented by directories which can hand out host
// memory buffers accessible by the device.
type DMAAllocator interface {
	AllocDMA(size uint64) (*Mapping, error)
}

// IOMMUMapper is implemented by directories which can program the IOMMU
// to make host virtual memory accessible to the device.
type IOMMUMapper interface {
	MapIOMMU(virt uintptr, phys, size uint64) (uint64, error)
}

// Resolver translates a device physical address into host accessible memory.
type Resolver interface {
	Resolve(phys uint64, size uint64) (*Window, error)
}

// LookupMap looks up a region and maps the whole of it.
func LookupMap(dir Directory, id ID) (*Mapping, error) {
	info, err := dir.Lookup(id)
	if err != nil {
		return nil, err
	}
	return dir.Map(id, info.Size)
}
