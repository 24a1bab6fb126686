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

package variants

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/hero-runtime/libhero/pkg/lifecycle"
	"github.com/hero-runtime/libhero/pkg/platform"
)

// Quadrant control registers.
const (
	QuadrantResetN          = 0x4
	QuadrantIsolate         = 0x8
	QuadrantTLBNarrowEnable = 0x18
	QuadrantTLBWideEnable   = 0x1c
	QuadrantTLBNarrow       = 0x800
	QuadrantTLBWide         = 0x1000
	QuadrantTLBStride       = 0x20

	IsolateNarrowIn  = 1 << 0
	IsolateNarrowOut = 1 << 1
	IsolateWideIn    = 1 << 2
	IsolateWideOut   = 1 << 3
	IsolateAll       = IsolateNarrowIn | IsolateNarrowOut | IsolateWideIn | IsolateWideOut
)

// SoC control scratch registers.
const (
	SocCtrlScratch0 = 0x8
	SocCtrlScratch1 = 0xc
	SocCtrlScratch2 = 0x10
)

const (
	// ClusterIRQs are the CLINT software interrupts of the cluster cores.
	ClusterIRQs = 0x1ff << 1
	// SnitchBootAddress is the default entry point of the cluster.
	SnitchBootAddress = 0xc0000000
	// LayoutSize is the size of the boot parameter block.
	LayoutSize = 16
)

// TLBEntry is a device side address translation window. Pages are
// translated to themselves.
type TLBEntry struct {
	First uint64
	Last  uint64
	Flags uint32
}

// SnitchTLB are the windows the cluster is allowed to access.
var SnitchTLB = []TLBEntry{
	{0x01000000, 0x0101ffff, 0x3}, // bootrom
	{0x02000000, 0x02000fff, 0x3}, // SoC control
	{0x04000000, 0x040fffff, 0x1}, // CLINT
	{0x10000000, 0x105fffff, 0x1}, // quadrants
	{0xc0000000, 0xffffffff, 0x1}, // HBM
	{0x71000000, 0x71100000, 0x1}, // SPM wide
}

// Layout is the boot parameter block of the Snitch cluster.
type Layout struct {
	H2A  uint32
	A2H  uint32
	RB   uint32
	Heap uint32
}

// Encode returns the in-memory representation of the layout.
func (l Layout) Encode() []byte {
	buf := make([]byte, LayoutSize)
	binary.LittleEndian.PutUint32(buf[0:], l.H2A)
	binary.LittleEndian.PutUint32(buf[4:], l.A2H)
	binary.LittleEndian.PutUint32(buf[8:], l.RB)
	binary.LittleEndian.PutUint32(buf[12:], l.Heap)
	return buf
}

// DecodeLayout decodes a boot parameter block.
func DecodeLayout(buf []byte) (Layout, error) {
	if len(buf) < LayoutSize {
		return Layout{}, fmt.Errorf("variants: short layout of %d bytes", len(buf))
	}
	return Layout{
		H2A:  binary.LittleEndian.Uint32(buf[0:]),
		A2H:  binary.LittleEndian.Uint32(buf[4:]),
		RB:   binary.LittleEndian.Uint32(buf[8:]),
		Heap: binary.LittleEndian.Uint32(buf[12:]),
	}, nil
}

// Snitch is the many-core cluster of the Occamy platform.
type Snitch struct{}

var (
	_ lifecycle.Variant     = &Snitch{}
	_ lifecycle.BootBlocker = &Snitch{}
)

func init() {
	register("snitch_cluster", func() lifecycle.Variant { return &Snitch{} }, "snitch", "occamy", "many_core_cluster")
}

// Name implements lifecycle.Variant.
func (*Snitch) Name() string {
	return "snitch_cluster"
}

// Platform implements lifecycle.Variant.
func (*Snitch) Platform() string {
	return platform.Occamy.Name
}

// Regions implements lifecycle.Variant.
func (*Snitch) Regions() []lifecycle.Requirement {
	return []lifecycle.Requirement{
		{ID: platform.OccamySnitchCluster, Name: "snitch_cluster", Role: lifecycle.RoleLocal,
			Alias: "l1_snitch_cluster", PhysMask: 0xffffffff},
		{ID: platform.OccamyQuadrantCtrl, Name: "quadrant_ctrl", Role: lifecycle.RoleControl},
		{ID: platform.OccamySocCtrl, Name: "soc_ctrl", Role: lifecycle.RoleControl},
		{ID: platform.OccamyL3, Name: "l3", Role: lifecycle.RoleFarHeap,
			Alias: "l3", Global: true, PhysMask: 0xffffffff},
		{ID: platform.OccamySPMWide, Name: "spm_wide", Role: lifecycle.RoleNearHeap},
		{ID: platform.OccamyCLINT, Name: "clint", Role: lifecycle.RoleControl},
	}
}

// BootBlockSize implements lifecycle.BootBlocker.
func (*Snitch) BootBlockSize() uint64 {
	return LayoutSize
}

// Isolate implements lifecycle.Variant. The quadrant has no isolation
// status register, the write is only fenced.
func (*Snitch) Isolate(_ context.Context, regs *lifecycle.Registers, on bool) error {
	mask := uint32(0)
	if on {
		mask = IsolateAll
	}
	if err := regs.Write32("quadrant_ctrl", QuadrantIsolate, mask); err != nil {
		return err
	}
	regs.Fence()
	return nil
}

// Reset implements lifecycle.Variant.
func (s *Snitch) Reset(ctx context.Context, regs *lifecycle.Registers) error {
	log.Debug("%s: reset", s.Name())

	if err := s.Isolate(ctx, regs, true); err != nil {
		return err
	}
	if err := regs.Write32("quadrant_ctrl", QuadrantResetN, 0); err != nil {
		return err
	}
	if err := regs.Clear("clint", 0, ClusterIRQs); err != nil {
		return err
	}
	regs.Fence()
	regs.Hold(lifecycle.ResetHoldCycles)
	if err := regs.Write32("quadrant_ctrl", QuadrantResetN, 1); err != nil {
		return err
	}
	regs.Fence()
	return s.Isolate(ctx, regs, false)
}

// Configure implements lifecycle.Variant. The mailbox locations are passed
// in the boot parameter block whose address goes to scratch register 2.
func (s *Snitch) Configure(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	if boot.Block == nil || boot.Block.Size() < LayoutSize {
		return fmt.Errorf("variants: %s: no boot parameter block", s.Name())
	}
	if boot.Block.Phys()>>32 != 0 {
		return fmt.Errorf("variants: %s: boot parameter block at 0x%x not addressable with 32 bits",
			s.Name(), boot.Block.Phys())
	}

	layout := Layout{
		H2A:  uint32(boot.H2A),
		A2H:  uint32(boot.A2H),
		RB:   uint32(boot.RB),
		Heap: uint32(boot.FarHeap.Phys),
	}
	if _, err := boot.Block.WriteAt(layout.Encode(), 0); err != nil {
		return err
	}
	regs.Fence()
	if err := regs.Write32("soc_ctrl", SocCtrlScratch2, uint32(boot.Block.Phys())); err != nil {
		return err
	}

	for idx, e := range SnitchTLB {
		if err := writeTLB(regs, QuadrantTLBNarrow, idx, e); err != nil {
			return err
		}
		if err := writeTLB(regs, QuadrantTLBWide, idx, e); err != nil {
			return err
		}
	}

	return writeSequence(regs,
		write("quadrant_ctrl", QuadrantTLBNarrowEnable, 1),
		write("quadrant_ctrl", QuadrantTLBWideEnable, 1),
	)
}

func writeTLB(regs *lifecycle.Registers, base uint64, idx int, e TLBEntry) error {
	var (
		first = e.First >> 12
		last  = e.Last >> 12
		off   = base + QuadrantTLBStride*uint64(idx)
	)
	for i, v := range []uint32{
		uint32(first), uint32(first >> 32),
		uint32(last), uint32(last >> 32),
		uint32(first), uint32(first >> 32),
		e.Flags,
	} {
		if err := regs.Write32("quadrant_ctrl", off+4*uint64(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Boot implements lifecycle.Variant. The cores wait in the bootrom for
// their software interrupt.
func (s *Snitch) Boot(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	addr := uint32(SnitchBootAddress)
	if boot.BootAddress != 0 {
		addr = uint32(boot.BootAddress)
	}

	log.Debug("%s: boot at 0x%x", s.Name(), addr)

	err := writeSequence(regs,
		write("soc_ctrl", SocCtrlScratch0, addr),
		write("soc_ctrl", SocCtrlScratch1, 0),
	)
	if err != nil {
		return err
	}
	return regs.Set("clint", 0, ClusterIRQs)
}

// Halt implements lifecycle.Variant.
func (*Snitch) Halt(_ context.Context, regs *lifecycle.Registers) error {
	if err := regs.Clear("clint", 0, ClusterIRQs); err != nil {
		return err
	}
	return writeSequence(regs,
		write("quadrant_ctrl", QuadrantResetN, 0),
	)
}
