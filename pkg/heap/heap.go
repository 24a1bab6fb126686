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

package heap

import (
	"fmt"
	"math/bits"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/utils"
)

const (
	// DefaultAlignment is the default alignment of allocations, safe for
	// device DMA engines.
	DefaultAlignment = 32
	// MinAlignment is the smallest supported alignment.
	MinAlignment = 8

	slBits  = 4
	slCount = 1 << slBits
	flCount = 64

	none = blockIndex(-1)
)

var log = logger.Get("heap")

type blockIndex int32

type block struct {
	off      uint64
	size     uint64
	prevPhys blockIndex
	nextPhys blockIndex
	prevFree blockIndex
	nextFree blockIndex
	free     bool
}

// Stats are the usage statistics of an allocator.
type Stats struct {
	Capacity    uint64
	Allocated   uint64
	Peak        uint64
	Allocations uint64
	Total       uint64
	Failures    uint64
}

// Allocator is a constant-time allocator for a device-visible pool.
type Allocator struct {
	name  string
	align uint64
	shift uint
	small uint64

	initVirt uintptr
	initPhys uint64
	initSize uint64

	virt        uintptr
	phys        uint64
	size        uint64
	initialized bool

	blocks   []block
	unused   []blockIndex
	live     map[uint64]blockIndex
	flBitmap uint64
	slBitmap [flCount]uint32
	heads    [flCount][slCount]blockIndex

	stats Stats
}

// Option is an option for an Allocator.
type Option func(*Allocator) error

// WithAlignment sets the alignment of allocations.
func WithAlignment(align uint64) Option {
	return func(a *Allocator) error {
		if align < MinAlignment || !utils.IsPowerOf2(align) {
			return fmt.Errorf("%w: invalid alignment %d", ErrFailedOption, align)
		}
		a.align = align
		return nil
	}
}

// WithName sets the name of the allocator used in logs and metrics.
func WithName(name string) Option {
	return func(a *Allocator) error {
		a.name = name
		return nil
	}
}

// New creates a new, uninitialized allocator.
func New(options ...Option) (*Allocator, error) {
	a := &Allocator{
		name:  "heap",
		align: DefaultAlignment,
	}

	for _, o := range options {
		if err := o(a); err != nil {
			return nil, err
		}
	}

	a.shift = uint(bits.TrailingZeros64(a.align))
	a.small = a.align << slBits

	return a, nil
}

// Init sets up the allocator over size bytes at the given virtual and
// physical address. Initializing an already initialized allocator with
// the same geometry is a logged no-op. Unlike a plain warning, a
// different geometry is refused with ErrAlreadyInitialized.
func (a *Allocator) Init(virt uintptr, phys, size uint64) error {
	if a.initialized {
		if virt == a.initVirt && phys == a.initPhys && size == a.initSize {
			log.Warn("%s: already initialized", a.name)
			return nil
		}
		return fmt.Errorf("%w: %s at phys 0x%x, requested phys 0x%x", ErrAlreadyInitialized,
			a.name, a.initPhys, phys)
	}

	if size == 0 || phys == 0 {
		return fmt.Errorf("%w: %s does not know where to put the heap (phys 0x%x, size 0x%x)",
			ErrInvalidRegion, a.name, phys, size)
	}

	pad := utils.AlignUp(phys, a.align) - phys
	if pad >= size {
		return fmt.Errorf("%w: %s: 0x%x bytes too small for alignment", ErrInvalidRegion, a.name, size)
	}
	usable := utils.AlignDown(size-pad, a.align)
	if usable < a.align {
		return fmt.Errorf("%w: %s: 0x%x bytes too small for alignment", ErrInvalidRegion, a.name, size)
	}

	a.initVirt, a.initPhys, a.initSize = virt, phys, size
	a.virt = virt + uintptr(pad)
	a.phys = phys + pad
	a.size = usable

	a.blocks = a.blocks[:0]
	a.unused = a.unused[:0]
	a.live = make(map[uint64]blockIndex)
	a.flBitmap = 0
	for fl := range a.heads {
		a.slBitmap[fl] = 0
		for sl := range a.heads[fl] {
			a.heads[fl][sl] = none
		}
	}
	a.stats = Stats{Capacity: usable}

	i := a.newBlock()
	a.blocks[i] = block{off: 0, size: usable, prevPhys: none, nextPhys: none, free: true}
	a.insertFree(i)
	a.initialized = true

	log.Debug("%s: initialized at virt 0x%x, phys 0x%x, size 0x%x", a.name, a.virt, a.phys, a.size)

	return nil
}

// Release drops all bookkeeping. The allocator can be initialized again.
func (a *Allocator) Release() {
	a.initialized = false
	a.blocks = nil
	a.unused = nil
	a.live = nil
}

// Initialized returns true if the allocator has been initialized.
func (a *Allocator) Initialized() bool {
	return a.initialized
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// Alignment returns the alignment of allocations.
func (a *Allocator) Alignment() uint64 {
	return a.align
}

// Base returns the pointer to the start of the pool.
func (a *Allocator) Base() region.Pointer {
	return region.Pointer{Virt: a.virt, Phys: a.phys}
}

// Size returns the size of the pool.
func (a *Allocator) Size() uint64 {
	return a.size
}

// Stats returns usage statistics.
func (a *Allocator) Stats() Stats {
	return a.stats
}

// Allocate allocates size bytes.
func (a *Allocator) Allocate(size uint64) (region.Pointer, error) {
	if !a.initialized {
		return region.Pointer{}, fmt.Errorf("%w: %s", ErrNotInitialized, a.name)
	}

	if size > a.size {
		a.stats.Failures++
		return region.Pointer{}, fmt.Errorf("%w: %s: 0x%x bytes requested, pool of 0x%x",
			ErrOutOfMemory, a.name, size, a.size)
	}
	if size == 0 {
		size = a.align
	}
	size = utils.AlignUp(size, a.align)

	i := a.findFree(size)
	if i == none {
		a.stats.Failures++
		return region.Pointer{}, fmt.Errorf("%w: %s: 0x%x bytes requested, 0x%x in use",
			ErrOutOfMemory, a.name, size, a.stats.Allocated)
	}

	a.removeFree(i)
	if rest := a.blocks[i].size - size; rest >= a.align {
		r := a.newBlock()
		a.blocks[r] = block{
			off:      a.blocks[i].off + size,
			size:     rest,
			prevPhys: i,
			nextPhys: a.blocks[i].nextPhys,
			free:     true,
		}
		if next := a.blocks[i].nextPhys; next != none {
			a.blocks[next].prevPhys = r
		}
		a.blocks[i].nextPhys = r
		a.blocks[i].size = size
		a.insertFree(r)
	}

	b := &a.blocks[i]
	b.free = false
	a.live[b.off] = i

	a.stats.Allocated += b.size
	a.stats.Allocations++
	a.stats.Total++
	if a.stats.Allocated > a.stats.Peak {
		a.stats.Peak = a.stats.Allocated
	}

	p := region.Pointer{Virt: a.virt + uintptr(b.off), Phys: a.phys + b.off}
	log.Trace("%s: allocated 0x%x bytes at %s", a.name, b.size, p)

	return p, nil
}

// Free releases an allocation. The pointer must have been returned by
// Allocate of the same allocator, otherwise ErrInvalidFree is returned.
func (a *Allocator) Free(p region.Pointer) error {
	if !a.initialized {
		return fmt.Errorf("%w: %s", ErrNotInitialized, a.name)
	}

	off, ok := a.offset(p)
	if !ok {
		return fmt.Errorf("%w: %s: %s outside of pool", ErrInvalidFree, a.name, p)
	}
	i, ok := a.live[off]
	if !ok {
		return fmt.Errorf("%w: %s: %s not allocated", ErrInvalidFree, a.name, p)
	}
	delete(a.live, off)

	a.stats.Allocated -= a.blocks[i].size
	a.stats.Allocations--
	a.blocks[i].free = true

	if prev := a.blocks[i].prevPhys; prev != none && a.blocks[prev].free {
		a.removeFree(prev)
		a.absorbNext(prev)
		i = prev
	}
	if next := a.blocks[i].nextPhys; next != none && a.blocks[next].free {
		a.removeFree(next)
		a.absorbNext(i)
	}
	a.insertFree(i)

	log.Trace("%s: freed %s", a.name, p)

	return nil
}

// Contains returns true if the pointer is within the pool.
func (a *Allocator) Contains(p region.Pointer) bool {
	_, ok := a.offset(p)
	return ok
}

// VirtualToPhysical translates a virtual address within the pool to the
// physical address of the same byte.
func (a *Allocator) VirtualToPhysical(virt uintptr) uint64 {
	return uint64(virt) - uint64(a.virt) + a.phys
}

// PhysicalToVirtual translates a physical address within the pool to the
// virtual address of the same byte.
func (a *Allocator) PhysicalToVirtual(phys uint64) uintptr {
	return uintptr(phys - a.phys + uint64(a.virt))
}

func (a *Allocator) offset(p region.Pointer) (uint64, bool) {
	var off uint64
	if p.Virt != 0 {
		if p.Virt < a.virt {
			return 0, false
		}
		off = uint64(p.Virt - a.virt)
	} else {
		if p.Phys < a.phys {
			return 0, false
		}
		off = p.Phys - a.phys
	}
	return off, off < a.size
}

// absorbNext merges the physical successor of i into i.
func (a *Allocator) absorbNext(i blockIndex) {
	next := a.blocks[i].nextPhys
	a.blocks[i].size += a.blocks[next].size
	a.blocks[i].nextPhys = a.blocks[next].nextPhys
	if nn := a.blocks[next].nextPhys; nn != none {
		a.blocks[nn].prevPhys = i
	}
	a.releaseBlock(next)
}

// mapping returns the size class of a block of the given size.
func (a *Allocator) mapping(size uint64) (int, int) {
	if size < a.small {
		return 0, int(size >> a.shift)
	}
	msb := bits.Len64(size) - 1
	fl := msb - (int(a.shift) + slBits) + 1
	sl := int(size>>(uint(msb)-slBits)) ^ slCount
	return fl, sl
}

// findFree returns a free block of at least size bytes, or none.
func (a *Allocator) findFree(size uint64) blockIndex {
	search := size
	if size >= a.small {
		search += (uint64(1) << (uint(bits.Len64(size)-1) - slBits)) - 1
	}
	fl, sl := a.mapping(search)

	if fl < flCount {
		slMap := a.slBitmap[fl] & (^uint32(0) << uint(sl))
		if slMap == 0 {
			flMap := a.flBitmap & (^uint64(0) << uint(fl+1))
			if flMap != 0 {
				fl = bits.TrailingZeros64(flMap)
				slMap = a.slBitmap[fl]
			}
		}
		if slMap != 0 {
			return a.heads[fl][bits.TrailingZeros32(slMap)]
		}
	}

	// The rounded-up class can be empty while the exact class has a block
	// large enough at its head.
	fl, sl = a.mapping(size)
	if i := a.heads[fl][sl]; i != none && a.blocks[i].size >= size {
		return i
	}
	return none
}

func (a *Allocator) insertFree(i blockIndex) {
	fl, sl := a.mapping(a.blocks[i].size)
	head := a.heads[fl][sl]

	a.blocks[i].free = true
	a.blocks[i].prevFree = none
	a.blocks[i].nextFree = head
	if head != none {
		a.blocks[head].prevFree = i
	}
	a.heads[fl][sl] = i
	a.slBitmap[fl] |= 1 << uint(sl)
	a.flBitmap |= 1 << uint(fl)
}

func (a *Allocator) removeFree(i blockIndex) {
	fl, sl := a.mapping(a.blocks[i].size)
	prev, next := a.blocks[i].prevFree, a.blocks[i].nextFree

	if prev != none {
		a.blocks[prev].nextFree = next
	} else {
		a.heads[fl][sl] = next
	}
	if next != none {
		a.blocks[next].prevFree = prev
	}
	a.blocks[i].free = false

	if a.heads[fl][sl] == none {
		a.slBitmap[fl] &^= 1 << uint(sl)
		if a.slBitmap[fl] == 0 {
			a.flBitmap &^= 1 << uint(fl)
		}
	}
}

func (a *Allocator) newBlock() blockIndex {
	if n := len(a.unused); n > 0 {
		i := a.unused[n-1]
		a.unused = a.unused[:n-1]
		return i
	}
	a.blocks = append(a.blocks, block{})
	return blockIndex(len(a.blocks) - 1)
}

func (a *Allocator) releaseBlock(i blockIndex) {
	a.blocks[i] = block{prevPhys: none, nextPhys: none, prevFree: none, nextFree: none}
	a.unused = append(a.unused, i)
}

// Dump logs the state of the allocator.
func (a *Allocator) Dump(prefix string) {
	if !log.DebugEnabled() {
		return
	}
	if !a.initialized {
		log.Debug("%s%s: not initialized", prefix, a.name)
		return
	}

	log.Debug("%s%s: phys 0x%x, size 0x%x, %d allocations, 0x%x bytes in use (peak 0x%x)",
		prefix, a.name, a.phys, a.size, a.stats.Allocations, a.stats.Allocated, a.stats.Peak)
	for i := a.blockAt(0); i != none; i = a.blocks[i].nextPhys {
		b := a.blocks[i]
		state := "used"
		if b.free {
			state = "free"
		}
		log.Debug("%s  [0x%x, 0x%x) %s", prefix, a.phys+b.off, a.phys+b.off+b.size, state)
	}
}

func (a *Allocator) blockAt(off uint64) blockIndex {
	for i := range a.blocks {
		b := a.blocks[i]
		if b.off == off && b.size != 0 {
			return blockIndex(i)
		}
	}
	return none
}
