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

package heap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/heap"
	"github.com/hero-runtime/libhero/pkg/region"
)

const (
	testVirt = uintptr(0x7f00_0000_0000)
	testPhys = uint64(0x8008_0000)
)

func newAllocator(t *testing.T, size uint64, options ...heap.Option) *heap.Allocator {
	a, err := heap.New(options...)
	require.NoError(t, err)
	require.NoError(t, a.Init(testVirt, testPhys, size))
	return a
}

func TestInit(t *testing.T) {
	type testCase struct {
		name string
		virt uintptr
		phys uint64
		size uint64
		fail error
	}
	for _, tc := range []*testCase{
		{name: "valid", virt: testVirt, phys: testPhys, size: 4096},
		{name: "zero size", virt: testVirt, phys: testPhys, size: 0, fail: heap.ErrInvalidRegion},
		{name: "zero phys", virt: testVirt, phys: 0, size: 4096, fail: heap.ErrInvalidRegion},
		{name: "too small", virt: testVirt, phys: testPhys, size: 16, fail: heap.ErrInvalidRegion},
		{name: "unaligned too small", virt: testVirt + 8, phys: testPhys + 8, size: 32, fail: heap.ErrInvalidRegion},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := heap.New()
			require.NoError(t, err)
			err = a.Init(tc.virt, tc.phys, tc.size)
			if tc.fail != nil {
				require.ErrorIs(t, err, tc.fail)
				require.False(t, a.Initialized())
				return
			}
			require.NoError(t, err)
			require.True(t, a.Initialized())
		})
	}
}

func TestReinit(t *testing.T) {
	a := newAllocator(t, 4096)
	p, err := a.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, a.Init(testVirt, testPhys, 4096), "same geometry is a no-op")
	require.Equal(t, uint64(1), a.Stats().Allocations, "no-op keeps allocations")
	require.NoError(t, a.Free(p))

	require.ErrorIs(t, a.Init(testVirt, testPhys+4096, 4096), heap.ErrAlreadyInitialized)

	a.Release()
	require.False(t, a.Initialized())
	require.NoError(t, a.Init(testVirt, testPhys+4096, 4096))
}

func TestOptions(t *testing.T) {
	_, err := heap.New(heap.WithAlignment(24))
	require.ErrorIs(t, err, heap.ErrFailedOption)
	_, err = heap.New(heap.WithAlignment(4))
	require.ErrorIs(t, err, heap.ErrFailedOption)

	a, err := heap.New(heap.WithAlignment(16), heap.WithName("l2"))
	require.NoError(t, err)
	require.Equal(t, uint64(16), a.Alignment())
	require.Equal(t, "l2", a.Name())
}

func TestNotInitialized(t *testing.T) {
	a, err := heap.New()
	require.NoError(t, err)

	_, err = a.Allocate(32)
	require.ErrorIs(t, err, heap.ErrNotInitialized)
	require.ErrorIs(t, a.Free(region.Pointer{Virt: testVirt, Phys: testPhys}), heap.ErrNotInitialized)
}

func TestExhaustion(t *testing.T) {
	a := newAllocator(t, 64)

	p1, err := a.Allocate(32)
	require.NoError(t, err)
	p2, err := a.Allocate(32)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	_, err = a.Allocate(32)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
	require.Equal(t, uint64(1), a.Stats().Failures)

	require.NoError(t, a.Free(p1))
	p4, err := a.Allocate(32)
	require.NoError(t, err)
	require.Equal(t, p1, p4)
}

func TestAddressArithmetic(t *testing.T) {
	const size = 1 << 20
	a := newAllocator(t, size)

	for _, n := range []uint64{1, 7, 32, 33, 100, 512, 4096, 65536, 3000} {
		p, err := a.Allocate(n)
		require.NoError(t, err)
		require.Equal(t, p.Phys, a.VirtualToPhysical(p.Virt))
		require.Equal(t, uint64(p.Virt)-uint64(testVirt)+testPhys, a.VirtualToPhysical(p.Virt))
		require.Equal(t, p.Virt, a.PhysicalToVirtual(p.Phys))
		require.LessOrEqual(t, uint64(p.Virt)+n, uint64(testVirt)+size)
		require.GreaterOrEqual(t, p.Virt, testVirt)
		require.Zero(t, p.Phys%heap.DefaultAlignment, "alignment of %d byte allocation", n)
		require.True(t, a.Contains(p))
	}
}

func TestReuse(t *testing.T) {
	for _, n := range []uint64{1, 32, 1000, 1 << 16} {
		a := newAllocator(t, 1<<20)
		p, err := a.Allocate(n)
		require.NoError(t, err)
		require.NoError(t, a.Free(p))
		q, err := a.Allocate(n)
		require.NoError(t, err)
		require.Equal(t, p, q, "reuse of %d byte allocation", n)
	}
}

func TestWholePool(t *testing.T) {
	a := newAllocator(t, 1<<20)

	p, err := a.Allocate(1 << 20)
	require.NoError(t, err)
	require.Equal(t, testPhys, p.Phys)

	_, err = a.Allocate(32)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
	require.NoError(t, a.Free(p))

	_, err = a.Allocate(1<<20 + 1)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)
}

func TestInvalidFree(t *testing.T) {
	a := newAllocator(t, 4096)

	p, err := a.Allocate(64)
	require.NoError(t, err)

	require.ErrorIs(t, a.Free(region.Pointer{Virt: testVirt + 1<<20}), heap.ErrInvalidFree)
	require.ErrorIs(t, a.Free(p.Add(32)), heap.ErrInvalidFree)
	require.NoError(t, a.Free(p))
	require.ErrorIs(t, a.Free(p), heap.ErrInvalidFree, "double free")

	// device-side pointers only carry the physical address
	q, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Free(region.Pointer{Phys: q.Phys}))
}

func TestCoalescing(t *testing.T) {
	a := newAllocator(t, 4096)

	var ptrs []region.Pointer
	for iter := 0; iter < 4096/256; iter++ {
		p, err := a.Allocate(256)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	_, err := a.Allocate(32)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)

	// free in an order which exercises merging with both neighbours
	for _, i := range []int{1, 3, 2, 0, 5, 4, 15, 6, 8, 7, 9, 10, 12, 11, 14, 13} {
		require.NoError(t, a.Free(ptrs[i]))
	}
	require.Zero(t, a.Stats().Allocated)

	p, err := a.Allocate(4096)
	require.NoError(t, err, "fully coalesced pool")
	require.Equal(t, testPhys, p.Phys)
}

func TestRandomized(t *testing.T) {
	const size = 1 << 18
	a := newAllocator(t, size)
	rng := rand.New(rand.NewSource(1))

	type span struct {
		p region.Pointer
		n uint64
	}
	var live []span

	for iter := 0; iter < 20000; iter++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(live))
			require.NoError(t, a.Free(live[i].p))
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		n := uint64(rng.Intn(4096) + 1)
		p, err := a.Allocate(n)
		if err != nil {
			require.ErrorIs(t, err, heap.ErrOutOfMemory)
			continue
		}
		require.GreaterOrEqual(t, p.Virt, testVirt)
		require.LessOrEqual(t, uint64(p.Virt-testVirt)+n, uint64(size))
		for _, s := range live {
			overlap := p.Phys < s.p.Phys+s.n && s.p.Phys < p.Phys+n
			require.False(t, overlap, "allocation %s overlaps %s", p, s.p)
		}
		live = append(live, span{p, n})
	}

	for _, s := range live {
		require.NoError(t, a.Free(s.p))
	}
	require.Zero(t, a.Stats().Allocations)
	_, err := a.Allocate(size)
	require.NoError(t, err)
}
