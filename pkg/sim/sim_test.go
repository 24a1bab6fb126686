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

package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/sim"
	"github.com/hero-runtime/libhero/pkg/variants"
)

func TestUnknownPlatform(t *testing.T) {
	_, err := sim.New(&platform.Platform{Name: "nowhere"})
	require.Error(t, err)
}

func TestCarfieldModel(t *testing.T) {
	m, err := sim.NewCarfield()
	require.NoError(t, err)
	require.Equal(t, platform.Carfield, m.Platform())

	soc, err := m.Dir.Map(platform.CarfieldSocCtrl, 0)
	require.NoError(t, err)
	defer m.Dir.Unmap(soc)
	mbox, err := m.Dir.Map(platform.CarfieldMailboxes, 0)
	require.NoError(t, err)
	defer m.Dir.Unmap(mbox)

	var booted []string
	m.OnBoot(func(variant string) { booted = append(booted, variant) })

	soc.MustStore32(variants.SafetyIslandIsolate, 1)
	require.Equal(t, uint32(1), soc.MustLoad32(variants.SafetyIslandIsolateStatus))
	soc.MustStore32(variants.SpatzIsolate, 1)
	require.Equal(t, uint32(1), soc.MustLoad32(variants.SpatzIsolateStatus))
	soc.MustStore32(variants.SpatzIsolate, 0)
	require.Equal(t, uint32(0), soc.MustLoad32(variants.SpatzIsolateStatus))

	mb := variants.HostToSpatz0
	mbox.MustStore32(mb.SndSet, 1)
	require.Equal(t, 0, m.Boots("spatz_cluster"), "doorbell while disabled")

	mbox.MustStore32(mb.SndEn, 1)
	mbox.MustStore32(mb.SndSet, 1)
	require.Equal(t, 1, m.Boots("spatz_cluster"))
	require.Equal(t, uint32(1), mbox.MustLoad32(mb.SndStat))
	mbox.MustStore32(mb.SndClr, 1)
	require.Equal(t, uint32(0), mbox.MustLoad32(mb.SndStat))

	soc.MustStore32(variants.SafetyIslandFetchEnable, 0)
	soc.MustStore32(variants.SafetyIslandFetchEnable, 1)
	require.Equal(t, 1, m.Boots("safety_island"))

	require.Equal(t, []string{"spatz_cluster", "safety_island"}, booted)
}

func TestOccamyModel(t *testing.T) {
	m, err := sim.NewOccamy()
	require.NoError(t, err)

	clint, err := m.Dir.Map(platform.OccamyCLINT, 0)
	require.NoError(t, err)
	defer m.Dir.Unmap(clint)

	clint.MustStore32(0, 0x2)
	require.Equal(t, 0, m.Boots("snitch_cluster"), "partial interrupt mask")
	clint.MustStore32(0, 0)
	clint.MustStore32(0, variants.ClusterIRQs)
	require.Equal(t, 1, m.Boots("snitch_cluster"))
	clint.MustStore32(0, variants.ClusterIRQs|1)
	require.Equal(t, 1, m.Boots("snitch_cluster"), "no rising edge")
}

func TestAbsentRegions(t *testing.T) {
	m, err := sim.NewCarfield(platform.CarfieldSafetyIsland, platform.CarfieldL3)
	require.NoError(t, err)

	for _, id := range []region.ID{platform.CarfieldSafetyIsland, platform.CarfieldL3} {
		_, err := m.Dir.Lookup(id)
		require.ErrorIs(t, err, region.ErrHardwareNotPresent)
		require.ErrorIs(t, err, region.ErrRegionNotFound)
	}
	_, err = m.Dir.Lookup(platform.CarfieldSpatzCluster)
	require.NoError(t, err)
}

func TestFirmwareRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := sim.NewOccamy()
	require.NoError(t, err)

	mem, err := m.Dir.Memory(platform.OccamySPMWide)
	require.NoError(t, err)

	rings := map[string]*mailbox.Ring{}
	for i, name := range []string{"h2a", "a2h", "rb"} {
		hdr, err := mem.Sub(uint64(i)*0x100, mailbox.HeaderSize)
		require.NoError(t, err)
		data, err := mem.Sub(0x1000+uint64(i)*0x100, 8*mailbox.WordSize)
		require.NoError(t, err)
		rings[name], err = mailbox.Init(name, hdr, data, 8, mailbox.WordSize)
		require.NoError(t, err)
	}

	fw, err := sim.AttachFirmware(m.Dir, rings["h2a"].HeaderPhys(), rings["a2h"].HeaderPhys(),
		rings["rb"].HeaderPhys())
	require.NoError(t, err)
	require.True(t, fw.H2A.IsDevice())

	done := make(chan error, 1)
	go func() {
		done <- fw.Run(ctx, nil)
	}()

	w, err := mailbox.NewWriter(rings["h2a"])
	require.NoError(t, err)
	r, err := mailbox.NewReader(rings["a2h"])
	require.NoError(t, err)

	word, err := r.ReadWord(ctx)
	require.NoError(t, err)
	require.Equal(t, mailbox.DeviceReady, word)

	for _, v := range []uint32{0xDEAD, 0xBEEF} {
		require.NoError(t, w.WriteWord(ctx, v))
		word, err = r.ReadWord(ctx)
		require.NoError(t, err)
		require.Equal(t, v, word)
	}

	require.NoError(t, w.WriteWord(ctx, mailbox.DeviceStop))
	word, err = r.ReadWord(ctx)
	require.NoError(t, err)
	require.Equal(t, mailbox.DeviceDone, word)
	require.NoError(t, <-done)

	msgs, err := mailbox.NewReader(rings["rb"])
	require.NoError(t, err)
	require.NoError(t, fw.Print(ctx, "ok"))
	msg, err := msgs.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", string(msg))
}

func TestFirmwareWithoutMessageRing(t *testing.T) {
	m, err := sim.NewOccamy()
	require.NoError(t, err)

	mem, err := m.Dir.Memory(platform.OccamySPMWide)
	require.NoError(t, err)

	var phys []uint64
	for i := 0; i < 2; i++ {
		hdr, err := mem.Sub(uint64(i)*0x100, mailbox.HeaderSize)
		require.NoError(t, err)
		data, err := mem.Sub(0x1000+uint64(i)*0x100, 4*mailbox.WordSize)
		require.NoError(t, err)
		r, err := mailbox.Init("ring", hdr, data, 4, mailbox.WordSize)
		require.NoError(t, err)
		phys = append(phys, r.HeaderPhys())
	}

	fw, err := sim.AttachFirmware(m.Dir, phys[0], phys[1], 0)
	require.NoError(t, err)
	require.Nil(t, fw.RB)
	require.Error(t, fw.Print(context.Background(), "lost"))

	_, err = fw.Get()
	require.ErrorIs(t, err, mailbox.ErrMailboxEmpty)
}
