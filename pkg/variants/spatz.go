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

	"github.com/hero-runtime/libhero/pkg/lifecycle"
	"github.com/hero-runtime/libhero/pkg/platform"
)

// Spatz cluster control registers in the Carfield SoC control block.
const (
	SpatzRst           = 0x34
	SpatzIsolate       = 0x4c
	SpatzIsolateStatus = 0x64
	SpatzClkEn         = 0x7c
	SpatzBootAddr      = 0xd8
	SpatzBusy          = 0xe8
)

// HostMailbox holds the register offsets of a host to Spatz hardware
// mailbox in the mailbox block.
type HostMailbox struct {
	SndStat uint64
	SndSet  uint64
	SndClr  uint64
	SndEn   uint64
	RcvStat uint64
	RcvSet  uint64
	RcvClr  uint64
	RcvEn   uint64
	Letter0 uint64
	Letter1 uint64
}

var (
	// HostToSpatz0 is the first host to Spatz mailbox.
	HostToSpatz0 = HostMailbox{
		SndStat: 0x200,
		SndSet:  0x204,
		SndClr:  0x208,
		SndEn:   0x20c,
		RcvStat: 0x240,
		RcvSet:  0x244,
		RcvClr:  0x248,
		RcvEn:   0x24c,
		Letter0: 0x280,
		Letter1: 0x28c,
	}
	// HostToSpatz1 is the second host to Spatz mailbox.
	HostToSpatz1 = HostMailbox{
		SndStat: 0x300,
		SndSet:  0x304,
		SndClr:  0x308,
		SndEn:   0x30c,
		RcvStat: 0x340,
		RcvSet:  0x344,
		RcvClr:  0x348,
		RcvEn:   0x34c,
		Letter0: 0x380,
		Letter1: 0x38c,
	}
)

const (
	// SpatzPeripherals is the offset of the cluster peripherals.
	SpatzPeripherals = 0x20000
	// SpatzClusterBootControl is the boot address register in the
	// cluster peripherals.
	SpatzClusterBootControl = 0x58
	// SpatzBootAddress is the default entry point of the cluster.
	SpatzBootAddress = 0x78000000
	// SpatzLocalSize is the part of the cluster offered as local memory.
	SpatzLocalSize = 0x20000
)

// Spatz is the vector cluster of the Carfield platform.
type Spatz struct{}

var _ lifecycle.Variant = &Spatz{}

func init() {
	register("spatz_cluster", func() lifecycle.Variant { return &Spatz{} }, "spatz", "vector_cluster")
}

// Name implements lifecycle.Variant.
func (*Spatz) Name() string {
	return "spatz_cluster"
}

// Platform implements lifecycle.Variant.
func (*Spatz) Platform() string {
	return platform.Carfield.Name
}

// Regions implements lifecycle.Variant.
func (*Spatz) Regions() []lifecycle.Requirement {
	return []lifecycle.Requirement{
		{ID: platform.CarfieldSocCtrl, Name: "soc_ctrl", Role: lifecycle.RoleControl},
		{ID: platform.CarfieldMailboxes, Name: "mboxes", Role: lifecycle.RoleControl},
		{ID: platform.CarfieldCtrlRegs, Name: "ctrl_regs", Role: lifecycle.RoleControl},
		{ID: platform.CarfieldL2Intl0, Name: "l2_intl_0", Role: lifecycle.RoleNearHeap,
			Alias: "l2_intl_0", Global: true, PhysMask: 0xffffffff},
		{ID: platform.CarfieldL2Cont0, Name: "l2_cont_0", Role: lifecycle.RoleAuxiliary},
		{ID: platform.CarfieldL2Intl1, Name: "l2_intl_1", Role: lifecycle.RoleAuxiliary},
		{ID: platform.CarfieldL2Cont1, Name: "l2_cont_1", Role: lifecycle.RoleAuxiliary},
		{ID: platform.CarfieldL3, Name: "l3", Role: lifecycle.RoleFarHeap},
		{ID: platform.CarfieldIDMA, Name: "idma", Role: lifecycle.RoleAuxiliary},
		{ID: platform.CarfieldSafetyIsland, Name: "safety_island", Role: lifecycle.RoleAuxiliary, Optional: true},
		{ID: platform.CarfieldSpatzCluster, Name: "spatz_cluster", Role: lifecycle.RoleLocal,
			Alias: "l1_spatz_cluster", ClientSize: SpatzLocalSize, PhysMask: 0xffffffff},
	}
}

// Isolate implements lifecycle.Variant.
func (*Spatz) Isolate(ctx context.Context, regs *lifecycle.Registers, on bool) error {
	return setIsolate(ctx, regs, "soc_ctrl", SpatzIsolate, SpatzIsolateStatus, on)
}

// Reset implements lifecycle.Variant.
func (s *Spatz) Reset(ctx context.Context, regs *lifecycle.Registers) error {
	log.Debug("%s: reset", s.Name())

	if err := s.Isolate(ctx, regs, true); err != nil {
		return err
	}
	err := writeSequence(regs,
		write("soc_ctrl", SpatzClkEn, 0),
		write("mboxes", HostToSpatz0.SndEn, 0),
		write("mboxes", HostToSpatz0.SndClr, 1),
		write("mboxes", HostToSpatz0.RcvClr, 1),
		write("mboxes", HostToSpatz1.SndEn, 0),
		write("mboxes", HostToSpatz1.SndClr, 1),
		write("mboxes", HostToSpatz1.RcvClr, 1),
		write("soc_ctrl", SpatzRst, 1),
		hold(lifecycle.ResetHoldCycles),
		write("soc_ctrl", SpatzRst, 0),
		write("soc_ctrl", SpatzClkEn, 1),
	)
	if err != nil {
		return err
	}
	return s.Isolate(ctx, regs, false)
}

// Configure implements lifecycle.Variant.
func (*Spatz) Configure(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	return writeMailboxes(regs, "ctrl_regs", boot)
}

// Boot implements lifecycle.Variant. The cluster is started by ringing
// the doorbell of both host to Spatz mailboxes.
func (s *Spatz) Boot(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	addr := uint32(SpatzBootAddress)
	if boot.BootAddress != 0 {
		addr = uint32(boot.BootAddress)
	}

	log.Debug("%s: boot at 0x%x", s.Name(), addr)

	return writeSequence(regs,
		write("spatz_cluster", SpatzPeripherals+SpatzClusterBootControl, addr),
		write("mboxes", HostToSpatz0.SndEn, 1),
		write("mboxes", HostToSpatz0.SndSet, 1),
		write("mboxes", HostToSpatz1.SndEn, 1),
		write("mboxes", HostToSpatz1.SndSet, 1),
	)
}

// Halt implements lifecycle.Variant.
func (*Spatz) Halt(_ context.Context, regs *lifecycle.Registers) error {
	return writeSequence(regs,
		write("mboxes", HostToSpatz0.SndEn, 0),
		write("mboxes", HostToSpatz1.SndEn, 0),
		write("soc_ctrl", SpatzRst, 1),
	)
}

// Busy returns true if the cluster reports being busy.
func (*Spatz) Busy(regs *lifecycle.Registers) (bool, error) {
	v, err := regs.Read32("soc_ctrl", SpatzBusy)
	if err != nil {
		return false, err
	}
	return v&1 != 0, nil
}
