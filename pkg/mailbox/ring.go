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

package mailbox

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/region"
)

const (
	// HeaderSize is the size of a ring header in bytes.
	HeaderSize = 32
	// HeaderAlign is the required alignment of a ring header.
	HeaderAlign = 16
	// WordSize is the element size of control word rings.
	WordSize = 4

	offHead        = 0
	offSize        = 4
	offTail        = 8
	offElementSize = 12
	offDataVirt    = 16
	offDataPhys    = 24
)

var log = logger.Get("mailbox")

// Ring is one view of a ring buffer. A ring has a host view, created by
// Init, and usually a device view, created by DeviceView. Each view must
// only be used by a single goroutine at a time, and only one side may put
// and the other side get.
type Ring struct {
	name   string
	hdr    *region.Window
	data   *region.Window
	size   uint32
	elSize uint32
	device bool
	stats  counters
}

type counters struct {
	puts     atomic.Uint64
	gets     atomic.Uint64
	full     atomic.Uint64
	empty    atomic.Uint64
	retries  atomic.Uint64
	warnings atomic.Uint64
}

// Stats are the usage counters of a ring view.
type Stats struct {
	Puts     uint64
	Gets     uint64
	Full     uint64
	Empty    uint64
	Retries  uint64
	Warnings uint64
}

// Snapshot is the header of a ring as read at one point in time.
type Snapshot struct {
	Head        uint32
	Tail        uint32
	Size        uint32
	ElementSize uint32
	DataVirt    uint64
	DataPhys    uint64
}

// Init initializes a ring over a header and a data array, both in memory
// shared with the device, and returns the host view of the ring.
func Init(name string, hdr, data *region.Window, size, elementSize uint32) (*Ring, error) {
	if size < 2 || elementSize == 0 {
		return nil, fmt.Errorf("%w: %s: size %d, element size %d", ErrInvalidRing, name, size, elementSize)
	}
	if need := uint64(size) * uint64(elementSize); data == nil || data.Size() < need {
		return nil, fmt.Errorf("%w: %s: data array smaller than 0x%x bytes", ErrInvalidRing, name, need)
	}
	hdr, err := headerWindow(name, hdr)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		name:   name,
		hdr:    hdr,
		data:   data,
		size:   size,
		elSize: elementSize,
	}

	r.hdr.MustStore32(offHead, 0)
	r.hdr.MustStore32(offTail, 0)
	r.hdr.MustStore32(offSize, size)
	r.hdr.MustStore32(offElementSize, elementSize)
	if err := r.hdr.Store64(offDataVirt, uint64(data.Virt())); err != nil {
		return nil, err
	}
	if err := r.hdr.Store64(offDataPhys, data.Phys()); err != nil {
		return nil, err
	}
	r.hdr.Fence()

	log.Debug("%s: initialized, header at 0x%x, %d x %d bytes at 0x%x", name,
		hdr.Phys(), size, elementSize, data.Phys())

	return r, nil
}

// Attach creates a device view of an initialized ring. The data array is
// located through the physical address in the header, as the device does.
func Attach(name string, hdr *region.Window, mem region.Resolver) (*Ring, error) {
	hdr, err := headerWindow(name, hdr)
	if err != nil {
		return nil, err
	}

	hdr.Fence()
	size := hdr.MustLoad32(offSize)
	elSize := hdr.MustLoad32(offElementSize)
	if size < 2 || elSize == 0 {
		return nil, fmt.Errorf("%w: %s: header at 0x%x not initialized", ErrInvalidRing, name, hdr.Phys())
	}
	dataPhys, err := hdr.Load64(offDataPhys)
	if err != nil {
		return nil, err
	}

	data, err := mem.Resolve(dataPhys, uint64(size)*uint64(elSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: data array at 0x%x: %w", ErrInvalidRing, name, dataPhys, err)
	}

	return &Ring{
		name:   name,
		hdr:    hdr,
		data:   data,
		size:   size,
		elSize: elSize,
		device: true,
	}, nil
}

// DeviceView creates a device view of the ring whose header is at the
// given physical address.
func DeviceView(name string, hdrPhys uint64, mem region.Resolver) (*Ring, error) {
	hdr, err := mem.Resolve(hdrPhys, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header at 0x%x: %w", ErrInvalidRing, name, hdrPhys, err)
	}
	return Attach(name, hdr, mem)
}

func headerWindow(name string, hdr *region.Window) (*region.Window, error) {
	if hdr == nil {
		return nil, fmt.Errorf("%w: %s: no header", ErrInvalidRing, name)
	}
	if hdr.Phys()%HeaderAlign != 0 {
		return nil, fmt.Errorf("%w: %s: header at 0x%x not %d byte aligned", ErrInvalidRing,
			name, hdr.Phys(), HeaderAlign)
	}
	w, err := hdr.Sub(0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRing, name, err)
	}
	return w, nil
}

// Name returns the name of the ring.
func (r *Ring) Name() string {
	return r.name
}

// HeaderPhys returns the physical address of the ring header. This is the
// address the device is told about.
func (r *Ring) HeaderPhys() uint64 {
	return r.hdr.Phys()
}

// Header returns the header as a dual pointer.
func (r *Ring) Header() region.Pointer {
	return r.hdr.Base()
}

// Data returns the data array as a dual pointer.
func (r *Ring) Data() region.Pointer {
	return r.data.Base()
}

// IsDevice returns true for device views.
func (r *Ring) IsDevice() bool {
	return r.device
}

// Cap returns the number of elements the ring can hold.
func (r *Ring) Cap() int {
	return int(r.size) - 1
}

// ElementSize returns the size of a single element.
func (r *Ring) ElementSize() int {
	return int(r.elSize)
}

// Len returns the number of elements currently in the ring.
func (r *Ring) Len() int {
	head := r.Acquire(offHead)
	tail := r.Acquire(offTail)
	return int((head + r.size - tail) % r.size)
}

// Snapshot reads the ring header.
func (r *Ring) Snapshot() Snapshot {
	s := Snapshot{
		Head:        r.Acquire(offHead),
		Tail:        r.Acquire(offTail),
		Size:        r.hdr.MustLoad32(offSize),
		ElementSize: r.hdr.MustLoad32(offElementSize),
	}
	s.DataVirt, _ = r.hdr.Load64(offDataVirt)
	s.DataPhys, _ = r.hdr.Load64(offDataPhys)
	return s
}

// Stats returns the usage counters of this view.
func (r *Ring) Stats() Stats {
	return Stats{
		Puts:     r.stats.puts.Load(),
		Gets:     r.stats.gets.Load(),
		Full:     r.stats.full.Load(),
		Empty:    r.stats.empty.Load(),
		Retries:  r.stats.retries.Load(),
		Warnings: r.stats.warnings.Load(),
	}
}

// Publish makes all prior writes to the data array visible, then stores
// an index word.
func (r *Ring) Publish(off uint64, value uint32) {
	r.hdr.Fence()
	r.hdr.MustStore32(off, value)
}

// Acquire loads an index word. Reads of the data array after Acquire see
// everything written before the matching Publish.
func (r *Ring) Acquire(off uint64) uint32 {
	v := r.hdr.MustLoad32(off)
	r.hdr.Fence()
	return v
}

// Put copies one element into the ring.
func (r *Ring) Put(el []byte) error {
	if len(el) != int(r.elSize) {
		return fmt.Errorf("%w: %s: %d bytes, element size %d", ErrElementSize, r.name, len(el), r.elSize)
	}

	head := r.hdr.MustLoad32(offHead) % r.size
	tail := r.Acquire(offTail)
	next := (head + 1) % r.size
	if next == tail {
		r.stats.full.Add(1)
		return ErrMailboxFull
	}

	if _, err := r.data.WriteAt(el, int64(head)*int64(r.elSize)); err != nil {
		return err
	}
	r.Publish(offHead, next)
	r.stats.puts.Add(1)

	return nil
}

// Get copies one element out of the ring.
func (r *Ring) Get(out []byte) error {
	if len(out) != int(r.elSize) {
		return fmt.Errorf("%w: %s: %d bytes, element size %d", ErrElementSize, r.name, len(out), r.elSize)
	}

	tail := r.hdr.MustLoad32(offTail) % r.size
	head := r.Acquire(offHead)
	if head == tail {
		r.stats.empty.Add(1)
		return ErrMailboxEmpty
	}

	if _, err := r.data.ReadAt(out, int64(tail)*int64(r.elSize)); err != nil {
		return err
	}
	r.Publish(offTail, (tail+1)%r.size)
	r.stats.gets.Add(1)

	return nil
}

// PutWord puts a 32-bit word into a ring of word sized elements.
func (r *Ring) PutWord(w uint32) error {
	var buf [WordSize]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	return r.Put(buf[:])
}

// GetWord gets a 32-bit word from a ring of word sized elements.
func (r *Ring) GetWord() (uint32, error) {
	var buf [WordSize]byte
	if err := r.Get(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *Ring) String() string {
	s := r.Snapshot()
	return fmt.Sprintf("%s{head %d, tail %d, size %d}", r.name, s.Head, s.Tail, s.Size)
}
