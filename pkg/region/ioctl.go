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

const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

// IOWR encodes a read-write ioctl request number like the kernel _IOWR macro.
func IOWR(typ byte, nr byte, size uintptr) uintptr {
	return uintptr(iocRead|iocWrite)<<iocDirShift |
		uintptr(typ)<<iocTypeShift |
		uintptr(nr)<<iocNrShift |
		(size&(1<<iocSizeBits-1))<<iocSizeShift
}

// Ioctls are the request numbers a driver understands.
type Ioctls struct {
	DMAAlloc uintptr
	MemInfos uintptr
	IOMMUMap uintptr
	// HasIOMMU is false if the driver has no IOMMU map request.
	HasIOMMU bool
}

// driverRecord is the argument of all driver requests.
type driverRecord struct {
	Size       uint64
	ResultPhys uint64
	ResultVirt uint64
	RegionID   int32
	_          int32
}
