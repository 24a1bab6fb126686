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

// Occamy region identifiers.
const (
	OccamySocCtrl       region.ID = 0
	OccamyL3            region.ID = 1
	OccamyQuadrantCtrl  region.ID = 2
	OccamyCLINT         region.ID = 5
	OccamySPMWide       region.ID = 10
	OccamySnitchCluster region.ID = 100
	OccamyDMABuffers    region.ID = 10000
)

// Occamy is the Occamy many-core system with Snitch clusters.
var Occamy = register(&Platform{
	Name:       "occamy",
	DevicePath: "/dev/occamydev--1",
	Ioctls: region.Ioctls{
		DMAAlloc: 0,
		MemInfos: 1,
	},
	DMABuffers: OccamyDMABuffers,
	Regions: []Region{
		{OccamySocCtrl, "soc_ctrl", 0x0200_0000, 0x1000},
		{OccamyL3, "l3", 0xc000_0000, 0x100000},
		{OccamyQuadrantCtrl, "quadrant_ctrl", 0x0b00_0000, 0x10000},
		{OccamyCLINT, "clint", 0x0400_0000, 0x1000},
		{OccamySPMWide, "spm_wide", 0x7100_0000, 0x100000},
		{OccamySnitchCluster, "snitch_cluster", 0x1000_0000, 0x40000},
	},
})
