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

// Package heap implements the constant-time allocators which hand out
// memory from device-visible regions.
//
// # Pools and Pointers
//
// An Allocator manages a single contiguous pool which is mapped both into
// the host process and into the device physical address space. Every
// allocation is returned as a region.Pointer carrying both addresses. The
// two are always a constant offset apart, so translating between them is
// pure arithmetic on the base addresses recorded at Init time.
//
// # Allocation Algorithm
//
// Free blocks are kept in segregated lists indexed by a two-level size
// class. The first level is the position of the most significant bit of
// the block size, the second level splits each power of two range into 16
// linear sub-ranges. Sizes below 16 alignment units all fall into the first
// first-level class, with one sub-range per alignment unit. A bitmap for
// each level tells which lists are non-empty, so finding a large enough
// free block takes two find-first-set operations regardless of pool size
// or fragmentation. Allocation rounds the request up to the next sub-range
// boundary, takes the first block of the first non-empty list at or above
// it, and splits off the remainder as a new free block. Freeing coalesces
// a block with its free physical neighbours immediately.
//
// # Bookkeeping
//
// Block headers are not stored in the pool. They live in a table of block
// descriptors indexed by small integers and linked by index, so the whole
// pool is available for allocations and the device never sees allocator
// metadata. Descriptors are recycled through a free index stack.
//
// # Concurrency
//
// An Allocator is not safe for concurrent use. The runtime drives each
// device from a single goroutine; callers sharing an allocator must
// serialize allocation and free calls themselves.
package heap
