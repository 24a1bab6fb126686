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

// Package mailbox implements the single-producer single-consumer ring
// buffers which carry words between the host and an accelerator.
//
// A ring lives in memory both sides can reach. Its header has a fixed
// layout:
//
//	offset  size  field
//	0       4     head
//	4       4     size
//	8       4     tail
//	12      4     element_size
//	16      8     data_v (data array, host virtual address)
//	24      8     data_p (data array, device physical address)
//
// The data array is allocated separately. The host accesses it through
// data_v, the device through data_p. The producer only ever writes head
// and the slot it fills, the consumer only tail and the slot it drains.
// The ring is full when (head+1) % size == tail and empty when
// head == tail, so it holds at most size-1 elements.
package mailbox
