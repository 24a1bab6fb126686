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
	"context"
	"fmt"

	"github.com/hero-runtime/libhero/pkg/region"
)

// Role tells what a region is used for.
type Role int

const (
	// RoleControl regions only hold registers.
	RoleControl Role = iota
	// RoleLocal regions are accelerator scratchpads offered to clients.
	RoleLocal
	// RoleNearHeap regions are split into a global memory and the near heap.
	RoleNearHeap
	// RoleFarHeap regions are split into a global memory and the far heap.
	RoleFarHeap
	// RoleAuxiliary regions are mapped but not used by the runtime itself.
	RoleAuxiliary
)

func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleLocal:
		return "local"
	case RoleNearHeap:
		return "near-heap"
	case RoleFarHeap:
		return "far-heap"
	case RoleAuxiliary:
		return "auxiliary"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Requirement describes a region an accelerator variant uses.
type Requirement struct {
	// ID is the region identifier in the driver directory.
	ID region.ID
	// Name is the register block name of the region.
	Name string
	// Role tells how the runtime uses the region.
	Role Role
	// Optional regions may be absent, the variant then runs with reduced
	// capabilities.
	Optional bool
	// Length limits the mapping. Zero maps the whole region.
	Length uint64
	// Alias is the client visible name of the local or global memory.
	Alias string
	// ClientSize limits the local memory offered to clients. Zero offers
	// the whole mapping.
	ClientSize uint64
	// PhysMask is applied to the physical address given to clients.
	PhysMask uint64
	// Global tells if the lower half of a heap region is offered to
	// clients as global memory.
	Global bool
}

// BootInfo carries what the runtime set up for the accelerator.
type BootInfo struct {
	// H2A, A2H and RB are the physical addresses of the mailbox headers.
	H2A uint64
	A2H uint64
	RB  uint64
	// NearHeap and FarHeap are the bases of the heaps.
	NearHeap region.Pointer
	FarHeap  region.Pointer
	// Block is a parameter block allocated for variants implementing
	// BootBlocker.
	Block *region.Window
	// BootAddress overrides the default boot address if not zero.
	BootAddress uint64
}

// Variant implements the hardware specific parts of the lifecycle of one
// kind of accelerator.
type Variant interface {
	// Name returns the name of the variant.
	Name() string
	// Platform returns the name of the platform the variant lives on.
	Platform() string
	// Regions returns the regions the variant uses.
	Regions() []Requirement
	// Isolate connects or disconnects the accelerator from the bus.
	Isolate(ctx context.Context, regs *Registers, on bool) error
	// Reset runs the reset sequence and leaves the accelerator de-isolated
	// and held before boot.
	Reset(ctx context.Context, regs *Registers) error
	// Configure tells the accelerator where its mailboxes are and sets up
	// any device side address translation.
	Configure(ctx context.Context, regs *Registers, boot *BootInfo) error
	// Boot programs the boot address and starts the accelerator.
	Boot(ctx context.Context, regs *Registers, boot *BootInfo) error
	// Halt stops the accelerator.
	Halt(ctx context.Context, regs *Registers) error
}

// BootBlocker is implemented by variants which need a parameter block in
// shared memory to boot.
type BootBlocker interface {
	BootBlockSize() uint64
}

// CheckRequirements verifies the requirements of a variant.
func CheckRequirements(v Variant) error {
	names := map[string]bool{}
	ids := map[region.ID]bool{}
	var near, far int

	for _, req := range v.Regions() {
		if req.Name == "" {
			return fmt.Errorf("%w: %s: region #%d has no name", ErrRequirement, v.Name(), req.ID)
		}
		if names[req.Name] || ids[req.ID] {
			return fmt.Errorf("%w: %s: duplicate region %s (#%d)", ErrRequirement, v.Name(), req.Name, req.ID)
		}
		names[req.Name] = true
		ids[req.ID] = true

		switch req.Role {
		case RoleNearHeap:
			near++
		case RoleFarHeap:
			far++
		}
	}

	if near > 1 || far > 1 {
		return fmt.Errorf("%w: %s: more than one heap per tier", ErrRequirement, v.Name())
	}
	return nil
}
