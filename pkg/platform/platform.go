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

// Package platform describes the host/accelerator platforms the runtime
// supports: the region identifiers of their driver directories, the driver
// device node and request numbers, and a default simulated memory map.
package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hero-runtime/libhero/pkg/region"
)

// Region describes a region of a platform.
type Region struct {
	ID   region.ID
	Name string
	// SimPhys and SimSize are used by the simulated directory.
	SimPhys uint64
	SimSize uint64
}

// Platform describes a host/accelerator platform.
type Platform struct {
	Name       string
	DevicePath string
	Ioctls     region.Ioctls
	DMABuffers region.ID
	Regions    []Region
}

var platforms = map[string]*Platform{}

func register(p *Platform) *Platform {
	platforms[p.Name] = p
	return p
}

// Get returns the named platform.
func Get(name string) (*Platform, error) {
	if p, ok := platforms[strings.ToLower(name)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown platform %q (known: %s)", name, strings.Join(Names(), ", "))
}

// Names returns the names of all known platforms.
func Names() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Region returns the region with the given id.
func (p *Platform) Region(id region.ID) (Region, bool) {
	for _, r := range p.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// RegionName returns the name of the region with the given id.
func (p *Platform) RegionName(id region.ID) string {
	if r, ok := p.Region(id); ok {
		return r.Name
	}
	return fmt.Sprintf("region#%d", id)
}

// RegionID returns the id of the named region.
func (p *Platform) RegionID(name string) (region.ID, bool) {
	for _, r := range p.Regions {
		if r.Name == name {
			return r.ID, true
		}
	}
	return 0, false
}

// Simulate returns a simulated directory with the default memory map of
// the platform. Regions listed in absent are declared but not present.
func (p *Platform) Simulate(absent ...region.ID) *region.Simulated {
	missing := map[region.ID]bool{}
	for _, id := range absent {
		missing[id] = true
	}

	dir := region.NewSimulated()
	for _, r := range p.Regions {
		dir.AddRegion(region.SimRegion{
			ID:     r.ID,
			Name:   r.Name,
			Phys:   r.SimPhys,
			Size:   r.SimSize,
			Absent: missing[r.ID],
		})
	}
	return dir
}

// OpenDriver opens the kernel driver of the platform. An empty path uses
// the platform default device node.
func (p *Platform) OpenDriver(path string) (*region.Driver, error) {
	if path == "" {
		path = p.DevicePath
	}
	return region.OpenDriver(path, p.Ioctls, p.DMABuffers)
}
