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

package region_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/region"
)

func newTestDirectory() *region.Simulated {
	return region.NewSimulated(
		region.SimRegion{ID: 0, Name: "ctrl", Phys: 0x2000_0000, Size: 0x1000},
		region.SimRegion{ID: 2, Name: "l3", Phys: 0x8000_0000, Size: 0x10000},
		region.SimRegion{ID: 100, Name: "island", Phys: 0x6000_0000, Size: 0x1000, Absent: true},
	)
}

func TestSimulatedLookup(t *testing.T) {
	dir := newTestDirectory()

	info, err := dir.Lookup(2)
	require.NoError(t, err)
	require.Equal(t, region.Info{ID: 2, Phys: 0x8000_0000, Size: 0x10000}, info)

	_, err = dir.Lookup(7)
	require.ErrorIs(t, err, region.ErrRegionNotFound)
	require.False(t, errors.Is(err, region.ErrHardwareNotPresent))

	info, err = dir.Lookup(100)
	require.ErrorIs(t, err, region.ErrHardwareNotPresent)
	require.ErrorIs(t, err, region.ErrRegionNotFound, "absent hardware is also not found")
	require.True(t, info.Absent())
}

func TestSimulatedMap(t *testing.T) {
	dir := newTestDirectory()

	m, err := region.LookupMap(dir, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), m.Size())
	require.Equal(t, uint64(0x8000_0000), m.Phys())
	require.Zero(t, m.Virt()%4096, "mappings are page aligned")
	require.Equal(t, 1, dir.Mapped())

	// a second mapping aliases the same memory
	m2, err := dir.Map(2, 0x100)
	require.NoError(t, err)
	require.NoError(t, m.Store32(0x10, 0xcafe))
	v, err := m2.Load32(0x10)
	require.NoError(t, err)
	require.Equal(t, uint32(0xcafe), v)

	_, err = dir.Map(2, 0x20000)
	require.ErrorIs(t, err, region.ErrMapFailed)
	_, err = dir.Map(100, 0)
	require.ErrorIs(t, err, region.ErrMapFailed)

	require.NoError(t, dir.Unmap(m2))
	require.NoError(t, dir.Unmap(m))
	require.Equal(t, 0, dir.Mapped())

	require.NoError(t, dir.Close())
	_, err = dir.Lookup(2)
	require.ErrorIs(t, err, region.ErrClosed)
}

func TestWindowAccess(t *testing.T) {
	dir := newTestDirectory()
	m, err := region.LookupMap(dir, 0)
	require.NoError(t, err)

	require.NoError(t, m.Store64(0x8, 0x1122334455667788))
	lo, err := m.Load32(0x8)
	require.NoError(t, err)
	require.Equal(t, uint32(0x55667788), lo)

	require.ErrorIs(t, m.Store32(0x2, 1), region.ErrMisaligned)
	require.ErrorIs(t, m.Store32(0x1000, 1), region.ErrOutOfBounds)
	_, err = m.Load64(0xffc)
	require.ErrorIs(t, err, region.ErrOutOfBounds)

	sub, err := m.Sub(0x100, 0x40)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000_0100), sub.Phys())
	require.Equal(t, m.Virt()+0x100, sub.Virt())
	require.True(t, m.ContainsPhys(0x2000_0fff))
	require.False(t, m.ContainsPhys(0x2000_1000))

	off, err := m.VirtOffset(sub.Virt())
	require.NoError(t, err)
	require.Equal(t, uint64(0x100), off)

	n, err := sub.WriteAt([]byte{1, 2, 3, 4}, 0x3c)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	_, err = sub.WriteAt([]byte{1, 2, 3, 4, 5}, 0x3c)
	require.ErrorIs(t, err, region.ErrOutOfBounds)

	p := m.PointerAt(0x100)
	require.Equal(t, region.Pointer{Virt: sub.Virt(), Phys: sub.Phys()}, p)
}

func TestStoreHooks(t *testing.T) {
	dir := newTestDirectory()

	var seen []uint64
	require.NoError(t, dir.SetStoreHook(0, func(w *region.Window, off uint64, value uint32) {
		seen = append(seen, off)
		if off == 0x40 {
			w.MustStore32(0x58, value)
		}
	}))

	m, err := region.LookupMap(dir, 0)
	require.NoError(t, err)

	m.MustStore32(0x40, 1)
	require.Equal(t, uint32(1), m.MustLoad32(0x58))

	sub, err := m.Sub(0x40, 0x20)
	require.NoError(t, err)
	sub.MustStore32(0, 0)
	require.Equal(t, uint32(0), m.MustLoad32(0x58))
	require.Equal(t, []uint64{0x40, 0x58, 0x40, 0x58}, seen)

	require.ErrorIs(t, dir.SetStoreHook(100, nil), region.ErrRegionNotFound)
}

func TestResolveAndDMA(t *testing.T) {
	dir := newTestDirectory()

	w, err := dir.Resolve(0x8000_0100, 0x10)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8000_0100), w.Phys())

	_, err = dir.Resolve(0x1000, 4)
	require.ErrorIs(t, err, region.ErrOutOfBounds)

	m, err := dir.AllocDMA(100)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), m.Size())
	require.Equal(t, uint64(region.SimulatedDMABase), m.Phys())

	w, err = dir.Resolve(m.Phys()+8, 4)
	require.NoError(t, err)
	m.MustStore32(8, 42)
	require.Equal(t, uint32(42), w.MustLoad32(0))
}

func TestProbe(t *testing.T) {
	dir := newTestDirectory()
	m, err := region.LookupMap(dir, 0)
	require.NoError(t, err)

	require.False(t, region.Probe(m.Window))
	m.MustStore32(0, region.Sentinel)
	require.True(t, region.Probe(m.Window))
}

func TestIOWR(t *testing.T) {
	// _IOWR('C', 2, void *) on a 64-bit kernel
	require.Equal(t, uintptr(0xc0084302), region.IOWR('C', 2, 8))
}
