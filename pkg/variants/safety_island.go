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

// Safety island control registers in the Carfield SoC control block.
const (
	SafetyIslandRst           = 0x28
	SafetyIslandIsolate       = 0x40
	SafetyIslandIsolateStatus = 0x58
	SafetyIslandClkEn         = 0x70
	SafetyIslandFetchEnable   = 0xb8
	SafetyIslandBootAddr      = 0xcc
)

// Registers inside the safety island itself.
const (
	SafetyIslandLocalBootAddr    = 0x200000
	SafetyIslandLocalFetchEnable = 0x200004
	SafetyIslandLocalBootMode    = 0x20000c
)

const (
	// SafetyIslandBootAddress is the default entry point of the safety island.
	SafetyIslandBootAddress = 0x60010080
	// SafetyIslandChunkSize is the host memory offered to clients.
	SafetyIslandChunkSize = 0x1000
)

// SafetyIsland is the safety critical core of the Carfield platform.
type SafetyIsland struct{}

var _ lifecycle.Variant = &SafetyIsland{}

func init() {
	register("safety_island", func() lifecycle.Variant { return &SafetyIsland{} }, "safety")
}

// Name implements lifecycle.Variant.
func (*SafetyIsland) Name() string {
	return "safety_island"
}

// Platform implements lifecycle.Variant.
func (*SafetyIsland) Platform() string {
	return platform.Carfield.Name
}

// Regions implements lifecycle.Variant.
func (*SafetyIsland) Regions() []lifecycle.Requirement {
	return []lifecycle.Requirement{
		{ID: platform.CarfieldSocCtrl, Name: "soc_ctrl", Role: lifecycle.RoleControl, Length: 0x1000},
		{ID: platform.CarfieldCtrlRegs, Name: "ctrl_regs", Role: lifecycle.RoleControl, Length: 0x1000},
		{ID: platform.CarfieldL2Intl0, Name: "l2_intl_0", Role: lifecycle.RoleNearHeap, Length: 0x100000},
		{ID: platform.CarfieldL2Cont0, Name: "l2_cont_0", Role: lifecycle.RoleAuxiliary, Length: 0x100000},
		{ID: platform.CarfieldL2Intl1, Name: "l2_intl_1", Role: lifecycle.RoleAuxiliary, Length: 0x100000},
		{ID: platform.CarfieldL2Cont1, Name: "l2_cont_1", Role: lifecycle.RoleAuxiliary, Length: 0x100000},
		{ID: platform.CarfieldL3, Name: "l3", Role: lifecycle.RoleFarHeap, Optional: true},
		{ID: platform.CarfieldSafetyIsland, Name: "safety_island", Role: lifecycle.RoleLocal,
			Length: 0x800000, Alias: "safety_all"},
	}
}

// HostChunks implements HostChunker.
func (*SafetyIsland) HostChunks() []HostChunk {
	return []HostChunk{{Alias: "chunk_0", Size: SafetyIslandChunkSize}}
}

// Isolate implements lifecycle.Variant.
func (*SafetyIsland) Isolate(ctx context.Context, regs *lifecycle.Registers, on bool) error {
	return setIsolate(ctx, regs, "soc_ctrl", SafetyIslandIsolate, SafetyIslandIsolateStatus, on)
}

// Reset implements lifecycle.Variant.
func (s *SafetyIsland) Reset(ctx context.Context, regs *lifecycle.Registers) error {
	log.Debug("%s: reset", s.Name())

	if err := s.Isolate(ctx, regs, true); err != nil {
		return err
	}
	err := writeSequence(regs,
		write("soc_ctrl", SafetyIslandFetchEnable, 0),
		write("soc_ctrl", SafetyIslandClkEn, 0),
		write("soc_ctrl", SafetyIslandRst, 1),
		hold(lifecycle.ResetHoldCycles),
		write("soc_ctrl", SafetyIslandRst, 0),
		write("soc_ctrl", SafetyIslandClkEn, 1),
	)
	if err != nil {
		return err
	}
	return s.Isolate(ctx, regs, false)
}

// Configure implements lifecycle.Variant.
func (*SafetyIsland) Configure(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	return writeMailboxes(regs, "ctrl_regs", boot)
}

// Boot implements lifecycle.Variant.
func (s *SafetyIsland) Boot(_ context.Context, regs *lifecycle.Registers, boot *lifecycle.BootInfo) error {
	addr := uint32(SafetyIslandBootAddress)
	if boot.BootAddress != 0 {
		addr = uint32(boot.BootAddress)
	}

	log.Debug("%s: boot at 0x%x", s.Name(), addr)

	if err := regs.Write32("soc_ctrl", SafetyIslandBootAddr, addr); err != nil {
		return err
	}
	if err := regs.Write32("safety_island", SafetyIslandLocalBootAddr, addr); err != nil {
		return err
	}
	regs.Fence()
	return regs.Write32("soc_ctrl", SafetyIslandFetchEnable, 1)
}

// Halt implements lifecycle.Variant.
func (*SafetyIsland) Halt(_ context.Context, regs *lifecycle.Registers) error {
	return writeSequence(regs,
		write("soc_ctrl", SafetyIslandFetchEnable, 0),
	)
}
