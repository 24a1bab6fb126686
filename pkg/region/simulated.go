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
	"sort"
	"sync"
	"unsafe"

	logger "github.com/hero-runtime/libhero/pkg/log"
)

const (
	simPageSize = 4096
	// SimulatedDMABase is the physical address of the simulated DMA pool.
	SimulatedDMABase = 0x8_0000_0000
)

// SimRegion describes a region of a simulated directory.
type SimRegion struct {
	ID     ID
	Name   string
	Phys   uint64
	Size   uint64
	Absent bool
}

// Simulated is a Directory backed by ordinary process memory.
type Simulated struct {
	sync.Mutex
	regions map[ID]*simRegion
	dma     []*Window
	dmaNext uint64
	mapped  int
	closed  bool
}

type simRegion struct {
	SimRegion
	mem *Window
}

var simlog = logger.Get("region-sim")

// NewSimulated creates a simulated directory with the given regions.
func NewSimulated(regions ...SimRegion) *Simulated {
	s := &Simulated{
		regions: make(map[ID]*simRegion),
		dmaNext: SimulatedDMABase,
	}
	for _, r := range regions {
		s.AddRegion(r)
	}
	return s
}

// AddRegion adds (or replaces) a region in the simulated directory.
func (s *Simulated) AddRegion(r SimRegion) {
	s.Lock()
	defer s.Unlock()

	sr := &simRegion{SimRegion: r}
	if !r.Absent {
		sr.mem = NewWindow(allocPages(r.Size), r.Phys)
	}
	s.regions[r.ID] = sr

	simlog.Debug("added simulated region #%d (%s) %s", r.ID, r.Name, sr.info())
}

// SetStoreHook attaches a hook to 32-bit stores into the given region.
func (s *Simulated) SetStoreHook(id ID, fn StoreHook) error {
	s.Lock()
	defer s.Unlock()

	r, ok := s.regions[id]
	if !ok || r.Absent {
		return fmt.Errorf("%w: simulated region #%d", ErrRegionNotFound, id)
	}
	r.mem.SetStoreHook(fn)
	return nil
}

// Memory returns the backing memory of a region, as seen by the device.
func (s *Simulated) Memory(id ID) (*Window, error) {
	s.Lock()
	defer s.Unlock()

	r, ok := s.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: simulated region #%d", ErrRegionNotFound, id)
	}
	if r.Absent {
		return nil, fmt.Errorf("%w: simulated region #%d", ErrHardwareNotPresent, id)
	}
	return r.mem, nil
}

// Resolve returns a window for size bytes at the given physical address.
func (s *Simulated) Resolve(phys, size uint64) (*Window, error) {
	s.Lock()
	defer s.Unlock()

	for _, r := range s.regions {
		if r.Absent || !r.mem.ContainsPhys(phys) {
			continue
		}
		return r.mem.Sub(phys-r.Phys, size)
	}
	for _, w := range s.dma {
		if w.ContainsPhys(phys) {
			return w.Sub(phys-w.Phys(), size)
		}
	}
	return nil, fmt.Errorf("%w: no simulated memory at physical 0x%x", ErrOutOfBounds, phys)
}

// Regions returns the infos of all regions present in the directory.
func (s *Simulated) Regions() []Info {
	s.Lock()
	defer s.Unlock()

	infos := make([]Info, 0, len(s.regions))
	for _, r := range s.regions {
		infos = append(infos, r.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Mapped returns the number of live mappings.
func (s *Simulated) Mapped() int {
	s.Lock()
	defer s.Unlock()
	return s.mapped
}

// Lookup implements Directory.
func (s *Simulated) Lookup(id ID) (Info, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return Info{}, ErrClosed
	}

	r, ok := s.regions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: region #%d", ErrRegionNotFound, id)
	}
	info := r.info()
	if info.Absent() {
		return Info{ID: id}, fmt.Errorf("%w: region #%d", ErrHardwareNotPresent, id)
	}
	return info, nil
}

// Map implements Directory.
func (s *Simulated) Map(id ID, length uint64) (*Mapping, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	r, ok := s.regions[id]
	if !ok || r.Absent {
		return nil, fmt.Errorf("%w: region #%d not mappable", ErrMapFailed, id)
	}
	if length == 0 {
		length = r.Size
	}
	w, err := r.mem.Sub(0, length)
	if err != nil {
		return nil, fmt.Errorf("%w: region #%d: %w", ErrMapFailed, id, err)
	}

	s.mapped++
	return &Mapping{Window: w, Info: r.info()}, nil
}

// Unmap implements Directory.
func (s *Simulated) Unmap(m *Mapping) error {
	if m == nil || m.Window == nil {
		return nil
	}

	s.Lock()
	defer s.Unlock()

	s.mapped--
	m.Window = nil
	return nil
}

// Close implements Directory.
func (s *Simulated) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

// AllocDMA implements DMAAllocator.
func (s *Simulated) AllocDMA(size uint64) (*Mapping, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	size = (size + simPageSize - 1) &^ (simPageSize - 1)
	if size == 0 {
		return nil, fmt.Errorf("%w: zero sized DMA buffer", ErrMapFailed)
	}

	w := NewWindow(allocPages(size), s.dmaNext)
	s.dma = append(s.dma, w)
	s.dmaNext += size
	s.mapped++

	return &Mapping{Window: w, Info: Info{ID: -1, Phys: w.Phys(), Size: size}}, nil
}

// MapIOMMU implements IOMMUMapper with an identity mapping.
func (s *Simulated) MapIOMMU(virt uintptr, phys, size uint64) (uint64, error) {
	if phys == 0 {
		phys = uint64(virt)
	}
	return phys, nil
}

func (r *simRegion) info() Info {
	if r.Absent {
		return Info{ID: r.ID}
	}
	return Info{ID: r.ID, Phys: r.Phys, Size: r.Size}
}

// allocPages allocates a page aligned buffer.
func allocPages(size uint64) []byte {
	buf := make([]byte, size+simPageSize)
	off := uint64(0)
	if rem := uint64(uintptr(unsafe.Pointer(&buf[0]))) % simPageSize; rem != 0 {
		off = simPageSize - rem
	}
	return buf[off : off+size : off+size]
}

var (
	_ Directory    = &Simulated{}
	_ DMAAllocator = &Simulated{}
	_ IOMMUMapper  = &Simulated{}
	_ Resolver     = &Simulated{}
)
