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

package region

import (
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"
)

// StoreHook is called after every 32-bit store to a window it is attached
// to. It receives the window the hook was attached to and the offset of
// the store within that window. Simulated hardware uses this to react to
// register writes.
type StoreHook func(w *Window, off uint64, value uint32)

type storeHook struct {
	fn   StoreHook
	root *Window
	off  uint64
}

// Window is a view of mapped memory, with both its virtual address in this
// process and the physical address of the same bytes on the device bus.
type Window struct {
	buf  []byte
	phys uint64
	hook *storeHook
}

var barrier uint32

// NewWindow creates a window over buf, which is seen by the device at phys.
func NewWindow(buf []byte, phys uint64) *Window {
	return &Window{buf: buf, phys: phys}
}

// SetStoreHook attaches a store hook to the window.
func (w *Window) SetStoreHook(fn StoreHook) {
	if fn == nil {
		w.hook = nil
		return
	}
	w.hook = &storeHook{fn: fn, root: w}
}

// Size returns the size of the window in bytes.
func (w *Window) Size() uint64 {
	return uint64(len(w.buf))
}

// Virt returns the virtual address of the start of the window.
func (w *Window) Virt() uintptr {
	if len(w.buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&w.buf[0]))
}

// Phys returns the physical address of the start of the window.
func (w *Window) Phys() uint64 {
	return w.phys
}

// Base returns a Pointer to the start of the window.
func (w *Window) Base() Pointer {
	return Pointer{Virt: w.Virt(), Phys: w.phys}
}

// PointerAt returns a Pointer to the given offset within the window.
func (w *Window) PointerAt(off uint64) Pointer {
	return w.Base().Add(off)
}

// Bytes returns the raw memory of the window.
func (w *Window) Bytes() []byte {
	return w.buf
}

// Sub returns a window for size bytes at the given offset.
func (w *Window) Sub(off, size uint64) (*Window, error) {
	if err := w.check(off, size, 1); err != nil {
		return nil, err
	}
	s := &Window{
		buf:  w.buf[off : off+size : off+size],
		phys: w.phys + off,
	}
	if w.hook != nil {
		s.hook = &storeHook{fn: w.hook.fn, root: w.hook.root, off: w.hook.off + off}
	}
	return s, nil
}

// ContainsVirt returns true if the virtual address is within the window.
func (w *Window) ContainsVirt(virt uintptr) bool {
	base := w.Virt()
	return base != 0 && virt >= base && uint64(virt-base) < w.Size()
}

// ContainsPhys returns true if the physical address is within the window.
func (w *Window) ContainsPhys(phys uint64) bool {
	return phys >= w.phys && phys-w.phys < w.Size()
}

// VirtOffset returns the offset of a virtual address within the window.
func (w *Window) VirtOffset(virt uintptr) (uint64, error) {
	if !w.ContainsVirt(virt) {
		return 0, fmt.Errorf("%w: virtual address 0x%x", ErrOutOfBounds, virt)
	}
	return uint64(virt - w.Virt()), nil
}

// PhysOffset returns the offset of a physical address within the window.
func (w *Window) PhysOffset(phys uint64) (uint64, error) {
	if !w.ContainsPhys(phys) {
		return 0, fmt.Errorf("%w: physical address 0x%x", ErrOutOfBounds, phys)
	}
	return phys - w.phys, nil
}

func (w *Window) check(off, size, align uint64) error {
	if off > w.Size() || size > w.Size()-off {
		return fmt.Errorf("%w: [0x%x, 0x%x) in window of 0x%x bytes", ErrOutOfBounds,
			off, off+size, w.Size())
	}
	if align > 1 && (uint64(w.Virt())+off)%align != 0 {
		return fmt.Errorf("%w: offset 0x%x, alignment %d", ErrMisaligned, off, align)
	}
	return nil
}

func (w *Window) ptr32(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&w.buf[off]))
}

func (w *Window) ptr64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&w.buf[off]))
}

// Load32 atomically loads a 32-bit word from the given offset.
func (w *Window) Load32(off uint64) (uint32, error) {
	if err := w.check(off, 4, 4); err != nil {
		return 0, err
	}
	return atomic.LoadUint32(w.ptr32(off)), nil
}

// Store32 atomically stores a 32-bit word at the given offset.
func (w *Window) Store32(off uint64, value uint32) error {
	if err := w.check(off, 4, 4); err != nil {
		return err
	}
	atomic.StoreUint32(w.ptr32(off), value)
	if h := w.hook; h != nil {
		h.fn(h.root, h.off+off, value)
	}
	return nil
}

// Load64 atomically loads a 64-bit word from the given offset.
func (w *Window) Load64(off uint64) (uint64, error) {
	if err := w.check(off, 8, 8); err != nil {
		return 0, err
	}
	return atomic.LoadUint64(w.ptr64(off)), nil
}

// Store64 atomically stores a 64-bit word at the given offset.
func (w *Window) Store64(off uint64, value uint64) error {
	if err := w.check(off, 8, 8); err != nil {
		return err
	}
	atomic.StoreUint64(w.ptr64(off), value)
	return nil
}

// MustLoad32 is Load32 which panics on error. Use it for register offsets
// which are platform constants.
func (w *Window) MustLoad32(off uint64) uint32 {
	v, err := w.Load32(off)
	if err != nil {
		panic(err)
	}
	return v
}

// MustStore32 is Store32 which panics on error.
func (w *Window) MustStore32(off uint64, value uint32) {
	if err := w.Store32(off, value); err != nil {
		panic(err)
	}
}

// ReadAt implements io.ReaderAt.
func (w *Window) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) > w.Size() {
		return 0, fmt.Errorf("%w: read at 0x%x", ErrOutOfBounds, off)
	}
	n := copy(p, w.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (w *Window) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: write at 0x%x", ErrOutOfBounds, off)
	}
	if err := w.check(uint64(off), uint64(len(p)), 1); err != nil {
		return 0, err
	}
	return copy(w.buf[off:], p), nil
}

// Fence orders all memory accesses issued before it against those issued
// after it.
func (w *Window) Fence() {
	Fence()
}

// Fence is a full memory barrier.
func Fence() {
	atomic.AddUint32(&barrier, 0)
}

// Probe returns true if the first word of the window reads back the
// absent hardware sentinel.
func Probe(w *Window) bool {
	v, err := w.Load32(0)
	return err == nil && v == Sentinel
}
