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

//go:build linux

package region

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	logger "github.com/hero-runtime/libhero/pkg/log"
)

// Driver is a Directory backed by the accelerator's kernel driver.
type Driver struct {
	sync.Mutex
	path     string
	fd       int
	ioctls   Ioctls
	dmaID    ID
	pagesize int
	mappings map[*Mapping][]byte
}

var dlog = logger.Get("region-driver")

// OpenDriver opens the driver character device at path. Device memory is
// mapped through it, DMA buffers are mapped using the dmaID pool.
func OpenDriver(path string, ioctls Ioctls, dmaID ID) (*Driver, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open driver device %q", path)
	}

	dlog.Debug("opened driver %s (fd %d)", path, fd)

	return &Driver{
		path:     path,
		fd:       fd,
		ioctls:   ioctls,
		dmaID:    dmaID,
		pagesize: unix.Getpagesize(),
		mappings: make(map[*Mapping][]byte),
	}, nil
}

func (d *Driver) ioctl(req uintptr, rec *driverRecord) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(unsafe.Pointer(rec)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Lookup implements Directory.
func (d *Driver) Lookup(id ID) (Info, error) {
	d.Lock()
	defer d.Unlock()

	if d.fd < 0 {
		return Info{}, ErrClosed
	}

	rec := &driverRecord{RegionID: int32(id)}
	if err := d.ioctl(d.ioctls.MemInfos, rec); err != nil {
		return Info{}, fmt.Errorf("%w: region #%d: %w", ErrRegionNotFound, id,
			errors.Wrap(err, "driver lookup failed"))
	}

	info := Info{ID: id, Phys: rec.ResultPhys, Size: rec.Size}
	dlog.Trace("lookup region #%d: size 0x%x, phys 0x%x", id, rec.Size, rec.ResultPhys)

	if info.Absent() {
		return Info{ID: id}, fmt.Errorf("%w: region #%d", ErrHardwareNotPresent, id)
	}
	return info, nil
}

// Map implements Directory.
func (d *Driver) Map(id ID, length uint64) (*Mapping, error) {
	info, err := d.Lookup(id)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		length = info.Size
	}

	d.Lock()
	defer d.Unlock()

	buf, err := d.mmap(id, length)
	if err != nil {
		return nil, err
	}

	m := &Mapping{Window: NewWindow(buf, info.Phys), Info: info}
	d.mappings[m] = buf
	return m, nil
}

func (d *Driver) mmap(id ID, length uint64) ([]byte, error) {
	buf, err := unix.Mmap(d.fd, int64(id)*int64(d.pagesize), int(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: region #%d, length 0x%x: %w", ErrMapFailed, id, length,
			errors.Wrap(err, "mmap failed"))
	}
	return buf, nil
}

// Unmap implements Directory.
func (d *Driver) Unmap(m *Mapping) error {
	if m == nil {
		return nil
	}

	d.Lock()
	defer d.Unlock()

	buf, ok := d.mappings[m]
	if !ok {
		return nil
	}
	delete(d.mappings, m)
	m.Window = nil

	if err := unix.Munmap(buf); err != nil {
		return errors.Wrapf(err, "failed to unmap region #%d", m.Info.ID)
	}
	return nil
}

// AllocDMA implements DMAAllocator.
func (d *Driver) AllocDMA(size uint64) (*Mapping, error) {
	d.Lock()
	defer d.Unlock()

	if d.fd < 0 {
		return nil, ErrClosed
	}

	page := uint64(d.pagesize)
	rec := &driverRecord{Size: (size + page - 1) &^ (page - 1)}
	if err := d.ioctl(d.ioctls.DMAAlloc, rec); err != nil {
		return nil, errors.Wrapf(err, "driver DMA allocation of 0x%x bytes failed", size)
	}

	buf, err := d.mmap(d.dmaID, rec.Size)
	if err != nil {
		return nil, err
	}

	info := Info{ID: d.dmaID, Phys: rec.ResultPhys, Size: rec.Size}
	m := &Mapping{Window: NewWindow(buf, info.Phys), Info: info}
	d.mappings[m] = buf

	dlog.Debug("allocated DMA buffer %s", info)
	return m, nil
}

// MapIOMMU implements IOMMUMapper.
func (d *Driver) MapIOMMU(virt uintptr, phys, size uint64) (uint64, error) {
	if !d.ioctls.HasIOMMU {
		return 0, ErrNotSupported
	}

	d.Lock()
	defer d.Unlock()

	rec := &driverRecord{Size: size, ResultPhys: phys, ResultVirt: uint64(virt)}
	if err := d.ioctl(d.ioctls.IOMMUMap, rec); err != nil {
		return 0, errors.Wrapf(err, "driver IOMMU mapping of 0x%x failed", virt)
	}
	return rec.ResultPhys, nil
}

// Close implements Directory. Mappings still alive are released.
func (d *Driver) Close() error {
	d.Lock()
	defer d.Unlock()

	if d.fd < 0 {
		return nil
	}

	for m, buf := range d.mappings {
		if err := unix.Munmap(buf); err != nil {
			dlog.Warn("failed to unmap region #%d: %v", m.Info.ID, err)
		}
		m.Window = nil
	}
	d.mappings = nil

	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return errors.Wrapf(err, "failed to close driver %q", d.path)
	}
	return nil
}

var (
	_ Directory    = &Driver{}
	_ DMAAllocator = &Driver{}
	_ IOMMUMapper  = &Driver{}
)
