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

package platform

import (
	"github.com/hero-runtime/libhero/pkg/region"
)

// Carfield region identifiers.
const (
	CarfieldSocCtrl        region.ID = 0
	CarfieldDMABuffers     region.ID = 1
	CarfieldL3             region.ID = 2
	CarfieldMailboxes      region.ID = 3
	CarfieldCtrlRegs       region.ID = 5
	CarfieldL2Intl0        region.ID = 10
	CarfieldL2Cont0        region.ID = 11
	CarfieldL2Intl1        region.ID = 12
	CarfieldL2Cont1        region.ID = 13
	CarfieldIDMA           region.ID = 20
	CarfieldSafetyIsland   region.ID = 100
	CarfieldIntegerCluster region.ID = 200
	CarfieldSpatzCluster   region.ID = 300
)

// recordPtrSize is the size the Carfield request numbers encode, the
// driver declares them with a pointer argument type.
const recordPtrSize = 8

// Carfield is the Carfield SoC, with a safety island, an integer cluster
// and a Spatz vector cluster.
var Carfield = register(&Platform{
	Name:       "carfield",
	DevicePath: "/dev/cardev--1",
	Ioctls: region.Ioctls{
		DMAAlloc: region.IOWR('C', 1, recordPtrSize),
		MemInfos: region.IOWR('C', 2, recordPtrSize),
		IOMMUMap: region.IOWR('C', 3, recordPtrSize),
		HasIOMMU: true,
	},
	DMABuffers: CarfieldDMABuffers,
	Regions: []Region{
		{CarfieldSocCtrl, "soc_ctrl", 0x2001_0000, 0x1000},
		{CarfieldDMABuffers, "dma_bufs", 0xa000_0000, 0x10000},
		{CarfieldL3, "l3", 0x8000_0000, 0x100000},
		{CarfieldMailboxes, "mboxes", 0x4000_0000, 0x1000},
		{CarfieldCtrlRegs, "ctrl_regs", 0x2002_0000, 0x1000},
		{CarfieldL2Intl0, "l2_intl_0", 0x7800_0000, 0x100000},
		{CarfieldL2Cont0, "l2_cont_0", 0x7810_0000, 0x100000},
		{CarfieldL2Intl1, "l2_intl_1", 0x7820_0000, 0x100000},
		{CarfieldL2Cont1, "l2_cont_1", 0x7830_0000, 0x100000},
		{CarfieldIDMA, "idma", 0x5000_0000, 0x1000},
		{CarfieldSafetyIsland, "safety_island", 0x6000_0000, 0x800000},
		{CarfieldIntegerCluster, "integer_cluster", 0x5000_1000, 0x40000},
		{CarfieldSpatzCluster, "spatz_cluster", 0x5100_0000, 0x40000},
	},
})
