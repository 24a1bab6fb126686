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

// Package runtime implements the host side of offloading to an
// accelerator: it opens the device through its lifecycle, sets up the
// shared heaps and the mailboxes, and hands out device memory to clients.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hero-runtime/libhero/pkg/heap"
	"github.com/hero-runtime/libhero/pkg/lifecycle"
	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/metrics"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/utils"
	"github.com/hero-runtime/libhero/pkg/variants"
)

var log = logger.Get("runtime")

// Memory is a device memory offered to clients.
type Memory struct {
	Alias string
	Virt  uintptr
	// Phys is the address the device uses, with the physical address
	// mask of the region applied.
	Phys   uint64
	Size   uint64
	Window *region.Window
}

func (m Memory) String() string {
	return fmt.Sprintf("%s: virt 0x%x, phys 0x%x, size 0x%x", m.Alias, m.Virt, m.Phys, m.Size)
}

// tier is one of the shared heaps.
type tier struct {
	alloc *heap.Allocator
	win   *region.Window
}

// allocation is a runtime owned heap allocation.
type allocation struct {
	tier *tier
	ptr  region.Pointer
}

// Device is an opened accelerator.
type Device struct {
	log         logger.Logger
	variant     lifecycle.Variant
	dir         region.Directory
	ctrl        *lifecycle.Controller
	pollTimeout time.Duration
	mboxOpts    []mailbox.Option
	slots       uint32
	align       uint64
	bootAddr    uint64
	hostChunk   uint64
	metrics     *metrics.Registry
	ts          *Timestamps

	heapLock sync.Mutex
	near     *tier
	far      *tier
	owned    []allocation

	local    []Memory
	global   []Memory
	hostMaps []*region.Mapping

	h2a, a2h, rb *mailbox.Ring
	writer       *mailbox.Writer
	reader       *mailbox.Reader
	msgs         *mailbox.Reader
	boot         *lifecycle.BootInfo

	// closeLock excludes Close from Stats.
	closeLock sync.RWMutex
	closed    atomic.Bool
	hostSeq   atomic.Uint32
}

// Open opens an accelerator through the given directory. The accelerator
// is left configured but not started.
func Open(ctx context.Context, v lifecycle.Variant, dir region.Directory, options ...Option) (*Device, error) {
	if err := logger.ApplyEnv(); err != nil {
		log.Warn("failed to apply logger environment: %v", err)
	}

	d := defaultDevice()
	d.variant = v
	d.dir = dir

	for _, o := range options {
		if err := o(d); err != nil {
			return nil, err
		}
	}

	ctrl, err := lifecycle.NewController(v,
		lifecycle.WithPollTimeout(d.pollTimeout),
		lifecycle.WithStateNotifier(d.stateChanged),
	)
	if err != nil {
		return nil, err
	}
	d.ctrl = ctrl

	if err := d.open(ctx); err != nil {
		d.log.Error("%s: open failed: %v", v.Name(), err)
		if uerr := d.release(ctx); uerr != nil {
			err = multierror.Append(err, uerr)
		}
		d.closed.Store(true)
		return nil, err
	}

	if d.metrics != nil {
		if err := d.RegisterMetrics(d.metrics); err != nil {
			d.log.Warn("%s: failed to register metrics: %v", v.Name(), err)
		}
	}

	return d, nil
}

func (d *Device) open(ctx context.Context) error {
	name := d.variant.Name()
	d.ts.Add("open", name)

	if err := d.ctrl.Map(d.dir); err != nil {
		return err
	}

	if err := d.setupMemories(); err != nil {
		return err
	}
	if err := d.setupHostChunks(); err != nil {
		return err
	}

	if err := d.ctrl.Isolate(ctx); err != nil {
		return err
	}

	if err := d.setupMailboxes(); err != nil {
		return err
	}

	boot := &lifecycle.BootInfo{
		H2A:         d.h2a.HeaderPhys(),
		A2H:         d.a2h.HeaderPhys(),
		RB:          d.rb.HeaderPhys(),
		NearHeap:    d.near.alloc.Base(),
		FarHeap:     d.far.alloc.Base(),
		BootAddress: d.bootAddr,
	}
	if bb, ok := d.variant.(lifecycle.BootBlocker); ok {
		blk, err := d.bootBlock(bb.BootBlockSize())
		if err != nil {
			return err
		}
		boot.Block = blk
	}
	d.boot = boot

	if err := d.ctrl.Configure(ctx, boot); err != nil {
		return err
	}

	d.log.Info("%s: opened, h2a at 0x%x, a2h at 0x%x, rb at 0x%x", name, boot.H2A, boot.A2H, boot.RB)

	return nil
}

// setupMemories collects the local memories and splits the heap regions
// into client global memory and the shared heaps.
func (d *Device) setupMemories() error {
	var err error

	if d.near, err = d.newTier("near"); err != nil {
		return err
	}
	if d.far, err = d.newTier("far"); err != nil {
		return err
	}

	for _, r := range d.ctrl.Regions() {
		if !r.Available() {
			continue
		}
		w := r.Mapping.Window

		switch r.Role {
		case lifecycle.RoleLocal:
			size := w.Size()
			if r.ClientSize != 0 && r.ClientSize < size {
				size = r.ClientSize
			}
			mem, err := d.memory(r.Alias, r.PhysMask, w, 0, size)
			if err != nil {
				return err
			}
			d.local = append(d.local, mem)

		case lifecycle.RoleNearHeap, lifecycle.RoleFarHeap:
			t := d.near
			if r.Role == lifecycle.RoleFarHeap {
				t = d.far
			}
			if err := d.splitHeap(r, t); err != nil {
				return err
			}
		}
	}

	if !d.near.alloc.Initialized() {
		return fmt.Errorf("runtime: %s: no near heap", d.variant.Name())
	}
	return nil
}

func (d *Device) newTier(name string) (*tier, error) {
	a, err := heap.New(heap.WithAlignment(d.align), heap.WithName(d.variant.Name()+"-"+name))
	if err != nil {
		return nil, err
	}
	return &tier{alloc: a}, nil
}

func (d *Device) splitHeap(r *lifecycle.Region, t *tier) error {
	w := r.Mapping.Window
	half := w.Size() / 2

	if r.Global {
		mem, err := d.memory(r.Alias, r.PhysMask, w, 0, half)
		if err != nil {
			return err
		}
		d.global = append(d.global, mem)
	}

	off := utils.AlignUp(half, d.align)
	if off >= w.Size() {
		return fmt.Errorf("%w: region %s too small for a heap", heap.ErrInvalidRegion, r.Name)
	}
	size := min(half, w.Size()-off)

	hw, err := w.Sub(off, size)
	if err != nil {
		return err
	}
	if err := t.alloc.Init(hw.Virt(), hw.Phys(), hw.Size()); err != nil {
		return fmt.Errorf("region %s: %w", r.Name, err)
	}
	t.win = hw

	d.log.Debug("%s: %s heap in %s at phys 0x%x, size 0x%x", d.variant.Name(), t.alloc.Name(),
		r.Name, hw.Phys(), hw.Size())

	return nil
}

func (d *Device) memory(alias string, mask uint64, w *region.Window, off, size uint64) (Memory, error) {
	sub, err := w.Sub(off, size)
	if err != nil {
		return Memory{}, err
	}
	phys := sub.Phys()
	if mask != 0 {
		phys &= mask
	}
	return Memory{
		Alias:  alias,
		Virt:   sub.Virt(),
		Phys:   phys,
		Size:   size,
		Window: sub,
	}, nil
}

// setupHostChunks allocates the host memory some variants offer to
// clients as global memory.
func (d *Device) setupHostChunks() error {
	hc, ok := d.variant.(variants.HostChunker)
	if !ok {
		return nil
	}

	for _, chunk := range hc.HostChunks() {
		size := chunk.Size
		if d.hostChunk != 0 {
			size = d.hostChunk
		}
		mem, err := d.hostAlloc(chunk.Alias, size)
		if err != nil {
			if errors.Is(err, ErrNoHostMemory) {
				d.log.Warn("%s: no host memory for %s: %v", d.variant.Name(), chunk.Alias, err)
				continue
			}
			return err
		}
		d.global = append(d.global, *mem)
	}
	return nil
}

func (d *Device) hostAlloc(alias string, size uint64) (*Memory, error) {
	dma, ok := d.dir.(region.DMAAllocator)
	if !ok {
		return nil, ErrNoHostMemory
	}

	m, err := dma.AllocDMA(size)
	if err != nil {
		return nil, fmt.Errorf("host memory %s: %w", alias, err)
	}

	d.heapLock.Lock()
	d.hostMaps = append(d.hostMaps, m)
	d.heapLock.Unlock()

	return &Memory{
		Alias:  alias,
		Virt:   m.Virt(),
		Phys:   m.Phys(),
		Size:   m.Size(),
		Window: m.Window,
	}, nil
}

// setupMailboxes creates the three rings in the near heap.
func (d *Device) setupMailboxes() error {
	var err error

	if d.h2a, err = d.newRing("h2a"); err != nil {
		return err
	}
	if d.a2h, err = d.newRing("a2h"); err != nil {
		return err
	}
	if d.rb, err = d.newRing("rb"); err != nil {
		return err
	}

	if d.writer, err = mailbox.NewWriter(d.h2a, d.mboxOpts...); err != nil {
		return err
	}
	if d.reader, err = mailbox.NewReader(d.a2h, d.mboxOpts...); err != nil {
		return err
	}
	if d.msgs, err = mailbox.NewReader(d.rb, d.mboxOpts...); err != nil {
		return err
	}
	return nil
}

func (d *Device) newRing(name string) (*mailbox.Ring, error) {
	hdr, err := d.allocWindow(d.near, mailbox.HeaderSize, mailbox.HeaderAlign)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", name, err)
	}
	data, err := d.allocWindow(d.near, uint64(d.slots)*mailbox.WordSize, mailbox.WordSize)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", name, err)
	}
	return mailbox.Init(name, hdr, data, d.slots, mailbox.WordSize)
}

func (d *Device) bootBlock(size uint64) (*region.Window, error) {
	t := d.far
	if !t.alloc.Initialized() {
		t = d.near
	}
	blk, err := d.allocWindow(t, size, mailbox.WordSize)
	if err != nil {
		return nil, fmt.Errorf("boot parameter block: %w", err)
	}
	return blk, nil
}

// allocWindow allocates runtime owned memory with the given alignment
// from a heap tier. The memory is freed when the device is closed.
func (d *Device) allocWindow(t *tier, size, align uint64) (*region.Window, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	extra := uint64(0)
	if align > t.alloc.Alignment() {
		extra = align - t.alloc.Alignment()
	}
	p, err := t.alloc.Allocate(size + extra)
	if err != nil {
		return nil, err
	}
	d.owned = append(d.owned, allocation{tier: t, ptr: p})

	phys := utils.AlignUp(p.Phys, align)
	return t.win.Sub(phys-t.win.Phys(), size)
}

// Start boots the accelerator.
func (d *Device) Start(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.ts.Add("start", d.variant.Name())
	return d.ctrl.Start(ctx, d.boot)
}

// Close stops the accelerator, releases the memory of the runtime and
// unmaps all regions.
func (d *Device) Close(ctx context.Context) error {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()

	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.ts.Add("close", d.variant.Name())

	if err := d.release(ctx); err != nil {
		d.log.Error("%s: close failed: %v", d.variant.Name(), err)
		return err
	}

	d.log.Info("%s: closed", d.variant.Name())
	return nil
}

func (d *Device) release(ctx context.Context) error {
	var errs *multierror.Error

	switch d.ctrl.State() {
	case lifecycle.Unmapped, lifecycle.Stopped:
	default:
		if err := d.ctrl.Stop(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	for i := len(d.owned) - 1; i >= 0; i-- {
		a := d.owned[i]
		if err := a.tier.alloc.Free(a.ptr); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.owned = nil

	for _, t := range []*tier{d.near, d.far} {
		if t != nil {
			t.alloc.Release()
			t.win = nil
		}
	}

	for i := len(d.hostMaps) - 1; i >= 0; i-- {
		if err := d.dir.Unmap(d.hostMaps[i]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unmap host memory: %w", err))
		}
	}
	d.hostMaps = nil
	d.local = nil
	d.global = nil

	return errs.ErrorOrNil()
}

// SendControl sends a word to the accelerator, waiting for room.
func (d *Device) SendControl(ctx context.Context, w uint32) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return d.writer.WriteWord(ctx, w)
}

// RecvControl receives a word from the accelerator, waiting for one.
func (d *Device) RecvControl(ctx context.Context) (uint32, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	return d.reader.ReadWord(ctx)
}

// RecvControlN receives n words from the accelerator, in arrival order.
func (d *Device) RecvControlN(ctx context.Context, n int) ([]uint32, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.reader.ReadWords(ctx, n)
}

// RecvMessage receives a variable length message from the message ring.
func (d *Device) RecvMessage(ctx context.Context) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.msgs.ReadMessage(ctx)
}

// AllocNear allocates memory from the near heap.
func (d *Device) AllocNear(size uint64) (region.Pointer, error) {
	return d.alloc(d.near, size)
}

// AllocFar allocates memory from the far heap.
func (d *Device) AllocFar(size uint64) (region.Pointer, error) {
	return d.alloc(d.far, size)
}

// FreeNear releases memory allocated with AllocNear.
func (d *Device) FreeNear(p region.Pointer) error {
	return d.free(d.near, p)
}

// FreeFar releases memory allocated with AllocFar.
func (d *Device) FreeFar(p region.Pointer) error {
	return d.free(d.far, p)
}

func (d *Device) alloc(t *tier, size uint64) (region.Pointer, error) {
	if d.closed.Load() {
		return region.Pointer{}, ErrClosed
	}
	d.heapLock.Lock()
	defer d.heapLock.Unlock()
	return t.alloc.Allocate(size)
}

func (d *Device) free(t *tier, p region.Pointer) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.heapLock.Lock()
	defer d.heapLock.Unlock()
	return t.alloc.Free(p)
}

// Bytes returns host access to n bytes of device memory at p.
func (d *Device) Bytes(p region.Pointer, n uint64) ([]byte, error) {
	w, err := d.Window(p, n)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Window returns a window for n bytes of device memory at p, which can be
// in one of the heaps or in any memory offered to clients.
func (d *Device) Window(p region.Pointer, n uint64) (*region.Window, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	d.heapLock.Lock()
	wins := []*region.Window{}
	for _, t := range []*tier{d.near, d.far} {
		if t.win != nil {
			wins = append(wins, t.win)
		}
	}
	for _, m := range d.hostMaps {
		wins = append(wins, m.Window)
	}
	d.heapLock.Unlock()

	for _, m := range append(d.LocalMemories(), d.GlobalMemories()...) {
		wins = append(wins, m.Window)
	}

	for _, w := range wins {
		if p.Virt != 0 && w.ContainsVirt(p.Virt) {
			off, err := w.VirtOffset(p.Virt)
			if err != nil {
				return nil, err
			}
			return w.Sub(off, n)
		}
		if p.Virt == 0 && w.ContainsPhys(p.Phys) {
			return w.Sub(p.Phys-w.Phys(), n)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMemory, p)
}

// LocalMemories returns the accelerator local memories offered to clients.
func (d *Device) LocalMemories() []Memory {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()
	return append([]Memory{}, d.local...)
}

// GlobalMemories returns the shared memories offered to clients.
func (d *Device) GlobalMemories() []Memory {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()
	return append([]Memory{}, d.global...)
}

// HostAlloc allocates a host memory buffer accessible by the device. The
// buffer is released when the device is closed.
func (d *Device) HostAlloc(size uint64) (*Memory, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.hostAlloc(fmt.Sprintf("host-%d", d.hostSeq.Add(1)-1), size)
}

// MapHostMemory makes host memory accessible to the device through the
// IOMMU and returns the device address of it.
func (d *Device) MapHostMemory(virt uintptr, phys, size uint64) (uint64, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	m, ok := d.dir.(region.IOMMUMapper)
	if !ok {
		return 0, fmt.Errorf("%w: IOMMU mapping", region.ErrNotSupported)
	}
	return m.MapIOMMU(virt, phys, size)
}

// Variant returns the variant of the accelerator.
func (d *Device) Variant() lifecycle.Variant {
	return d.variant
}

// State returns the lifecycle state of the accelerator.
func (d *Device) State() lifecycle.State {
	return d.ctrl.State()
}

// Regions returns the regions of the accelerator.
func (d *Device) Regions() []*lifecycle.Region {
	return d.ctrl.Regions()
}

// Registers returns the register blocks of the accelerator.
func (d *Device) Registers() *lifecycle.Registers {
	return d.ctrl.Registers()
}

// Timestamps returns the timestamps taken by the device.
func (d *Device) Timestamps() *Timestamps {
	return d.ts
}

// Rings returns the host views of the mailbox rings.
func (d *Device) Rings() (h2a, a2h, rb *mailbox.Ring) {
	return d.h2a, d.a2h, d.rb
}

func (d *Device) stateChanged(from, to lifecycle.State) {
	d.ts.Add(to.String(), d.variant.Name())
	if to == lifecycle.Error {
		d.log.Warn("%s: lifecycle %s -> %s", d.variant.Name(), from, to)
	}
}
