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

package variants_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/lifecycle"
	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/sim"
	"github.com/hero-runtime/libhero/pkg/variants"
)

func TestGet(t *testing.T) {
	type testCase struct {
		name     string
		lookup   string
		expected string
		platform string
		fail     bool
	}

	for _, tc := range []*testCase{
		{name: "safety island", lookup: "safety_island", expected: "safety_island", platform: "carfield"},
		{name: "safety alias", lookup: "safety", expected: "safety_island", platform: "carfield"},
		{name: "spatz", lookup: "spatz_cluster", expected: "spatz_cluster", platform: "carfield"},
		{name: "vector alias, dashes", lookup: "Vector-Cluster", expected: "spatz_cluster", platform: "carfield"},
		{name: "snitch", lookup: "snitch", expected: "snitch_cluster", platform: "occamy"},
		{name: "occamy alias", lookup: "occamy", expected: "snitch_cluster", platform: "occamy"},
		{name: "many core alias", lookup: "many-core-cluster", expected: "snitch_cluster", platform: "occamy"},
		{name: "unknown", lookup: "integer_cluster", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := variants.Get(tc.lookup)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, v.Name())
			require.Equal(t, tc.platform, v.Platform())
			require.NoError(t, lifecycle.CheckRequirements(v))
		})
	}

	require.Equal(t, []string{"safety_island", "snitch_cluster", "spatz_cluster"}, variants.Names())
	require.Contains(t, variants.Aliases("spatz_cluster"), "vector_cluster")
	require.Nil(t, variants.Aliases("spatz"))
}

func TestLayout(t *testing.T) {
	l := variants.Layout{H2A: 0x71080000, A2H: 0x71080040, RB: 0x71080080, Heap: 0xc0080000}
	buf := l.Encode()
	require.Len(t, buf, variants.LayoutSize)
	require.Equal(t, []byte{0x00, 0x00, 0x08, 0x71}, buf[0:4])

	decoded, err := variants.DecodeLayout(buf)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(l, decoded))

	_, err = variants.DecodeLayout(buf[:8])
	require.Error(t, err)
}

func newController(t *testing.T, m *sim.Machine, name string) (lifecycle.Variant, *lifecycle.Controller) {
	v, err := variants.Get(name)
	require.NoError(t, err)
	c, err := lifecycle.NewController(v, lifecycle.WithPollTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, c.Map(m.Dir))
	t.Cleanup(func() {
		if c.State() != lifecycle.Stopped {
			_ = c.Stop(context.Background())
		}
	})
	return v, c
}

func TestSpatzIsolation(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewCarfield()
	require.NoError(t, err)
	v, c := newController(t, m, "spatz_cluster")
	regs := c.Registers()

	soc, err := m.Dir.Memory(platform.CarfieldSocCtrl)
	require.NoError(t, err)

	for iter := 0; iter < 2; iter++ {
		require.NoError(t, v.Isolate(ctx, regs, true))
		require.Equal(t, uint32(1), soc.MustLoad32(variants.SpatzIsolateStatus))
	}
	for iter := 0; iter < 2; iter++ {
		require.NoError(t, v.Isolate(ctx, regs, false))
		require.Equal(t, uint32(0), soc.MustLoad32(variants.SpatzIsolateStatus))
	}

	busy, err := v.(*variants.Spatz).Busy(regs)
	require.NoError(t, err)
	require.False(t, busy)
	soc.MustStore32(variants.SpatzBusy, 1)
	busy, err = v.(*variants.Spatz).Busy(regs)
	require.NoError(t, err)
	require.True(t, busy)
}

func TestSpatzSequence(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewCarfield()
	require.NoError(t, err)
	_, c := newController(t, m, "vector_cluster")

	boot := &lifecycle.BootInfo{H2A: 0x78080000, A2H: 0x78080040}
	require.NoError(t, c.Isolate(ctx))
	require.NoError(t, c.Configure(ctx, boot))

	soc, err := m.Dir.Memory(platform.CarfieldSocCtrl)
	require.NoError(t, err)
	regs, err := m.Dir.Memory(platform.CarfieldCtrlRegs)
	require.NoError(t, err)
	mbox, err := m.Dir.Memory(platform.CarfieldMailboxes)
	require.NoError(t, err)

	require.Equal(t, uint32(0), soc.MustLoad32(variants.SpatzRst))
	require.Equal(t, uint32(1), soc.MustLoad32(variants.SpatzClkEn))
	require.Equal(t, uint32(0), soc.MustLoad32(variants.SpatzIsolateStatus))
	require.Equal(t, uint32(0x78080000), regs.MustLoad32(0x0))
	require.Equal(t, uint32(0x78080040), regs.MustLoad32(0x4))

	require.NoError(t, c.Start(ctx, boot))
	require.Equal(t, 1, m.Boots("spatz_cluster"))
	for _, mb := range []variants.HostMailbox{variants.HostToSpatz0, variants.HostToSpatz1} {
		require.Equal(t, uint32(1), mbox.MustLoad32(mb.SndEn))
	}

	require.NoError(t, c.Stop(ctx))
	require.Equal(t, uint32(1), soc.MustLoad32(variants.SpatzRst))
	require.Equal(t, uint32(0), mbox.MustLoad32(variants.HostToSpatz0.SndEn))
}

func TestMailboxAddressing(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewCarfield()
	require.NoError(t, err)
	_, c := newController(t, m, "spatz_cluster")

	require.NoError(t, c.Isolate(ctx))
	err = c.Configure(ctx, &lifecycle.BootInfo{H2A: 1 << 32, A2H: 0x1000})
	require.Error(t, err)
	require.Equal(t, lifecycle.Error, c.State())
}

func TestSafetyIslandBoot(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewCarfield()
	require.NoError(t, err)
	v, c := newController(t, m, "safety_island")

	chunks := v.(variants.HostChunker).HostChunks()
	require.Equal(t, []variants.HostChunk{{Alias: "chunk_0", Size: variants.SafetyIslandChunkSize}}, chunks)

	boot := &lifecycle.BootInfo{H2A: 0x78080000, A2H: 0x78080040, BootAddress: 0x60020000}
	require.NoError(t, c.Isolate(ctx))
	require.NoError(t, c.Configure(ctx, boot))
	require.Equal(t, 0, m.Boots("safety_island"))
	require.NoError(t, c.Start(ctx, boot))
	require.Equal(t, 1, m.Boots("safety_island"))

	soc, err := m.Dir.Memory(platform.CarfieldSocCtrl)
	require.NoError(t, err)
	island, err := m.Dir.Memory(platform.CarfieldSafetyIsland)
	require.NoError(t, err)

	require.Equal(t, uint32(0x60020000), soc.MustLoad32(variants.SafetyIslandBootAddr))
	require.Equal(t, uint32(0x60020000), island.MustLoad32(variants.SafetyIslandLocalBootAddr))
	require.Equal(t, uint32(1), soc.MustLoad32(variants.SafetyIslandFetchEnable))
}

func TestSnitchConfigure(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewOccamy()
	require.NoError(t, err)
	v, c := newController(t, m, "snitch_cluster")
	require.Equal(t, uint64(variants.LayoutSize), v.(lifecycle.BootBlocker).BootBlockSize())

	l3, err := m.Dir.Memory(platform.OccamyL3)
	require.NoError(t, err)
	blk, err := l3.Sub(0x80000, variants.LayoutSize)
	require.NoError(t, err)

	boot := &lifecycle.BootInfo{
		H2A:     0x71080000,
		A2H:     0x71080040,
		RB:      0x71080080,
		FarHeap: region.Pointer{Phys: 0xc0080040},
		Block:   blk,
	}

	require.NoError(t, c.Isolate(ctx))
	quadrant, err := m.Dir.Memory(platform.OccamyQuadrantCtrl)
	require.NoError(t, err)
	require.Equal(t, uint32(variants.IsolateAll), quadrant.MustLoad32(variants.QuadrantIsolate))

	require.NoError(t, c.Configure(ctx, boot))
	require.Equal(t, uint32(0), quadrant.MustLoad32(variants.QuadrantIsolate))
	require.Equal(t, uint32(1), quadrant.MustLoad32(variants.QuadrantResetN))

	layout, err := variants.DecodeLayout(blk.Bytes())
	require.NoError(t, err)
	require.Equal(t, variants.Layout{H2A: 0x71080000, A2H: 0x71080040, RB: 0x71080080, Heap: 0xc0080040}, layout)

	soc, err := m.Dir.Memory(platform.OccamySocCtrl)
	require.NoError(t, err)
	require.Equal(t, uint32(blk.Phys()), soc.MustLoad32(variants.SocCtrlScratch2))

	for _, base := range []uint64{variants.QuadrantTLBNarrow, variants.QuadrantTLBWide} {
		for idx, e := range variants.SnitchTLB {
			off := base + variants.QuadrantTLBStride*uint64(idx)
			require.Equal(t, uint32(e.First>>12), quadrant.MustLoad32(off))
			require.Equal(t, uint32(e.Last>>12), quadrant.MustLoad32(off+8))
			require.Equal(t, uint32(e.First>>12), quadrant.MustLoad32(off+16))
			require.Equal(t, e.Flags, quadrant.MustLoad32(off+24))
		}
	}
	require.Equal(t, uint32(1), quadrant.MustLoad32(variants.QuadrantTLBNarrowEnable))
	require.Equal(t, uint32(1), quadrant.MustLoad32(variants.QuadrantTLBWideEnable))

	require.NoError(t, c.Start(ctx, boot))
	require.Equal(t, 1, m.Boots("snitch_cluster"))
	clint, err := m.Dir.Memory(platform.OccamyCLINT)
	require.NoError(t, err)
	require.Equal(t, uint32(variants.ClusterIRQs), clint.MustLoad32(0))
	require.Equal(t, uint32(variants.SnitchBootAddress), soc.MustLoad32(variants.SocCtrlScratch0))

	require.NoError(t, c.Stop(ctx))
	require.Equal(t, uint32(0), clint.MustLoad32(0))
	require.Equal(t, uint32(0), quadrant.MustLoad32(variants.QuadrantResetN))
}

func TestSnitchMissingBlock(t *testing.T) {
	ctx := context.Background()

	m, err := sim.NewOccamy()
	require.NoError(t, err)
	_, c := newController(t, m, "snitch_cluster")

	require.NoError(t, c.Isolate(ctx))
	require.Error(t, c.Configure(ctx, &lifecycle.BootInfo{}))
}
