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

// Package sim simulates the accelerator platforms well enough to run the
// runtime without hardware: region memory, register side effects and a
// firmware double speaking the mailbox protocol.
package sim

import (
	"fmt"
	"sync"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/variants"
)

var log = logger.Get("sim")

// Machine is a simulated platform.
type Machine struct {
	sync.Mutex
	// Dir is the simulated region directory of the machine.
	Dir      *region.Simulated
	platform *platform.Platform
	boots    map[string]int
	onBoot   []func(variant string)
	clint    uint32
}

// New creates a simulated machine for the given platform. The listed
// regions are declared but absent.
func New(p *platform.Platform, absent ...region.ID) (*Machine, error) {
	m := &Machine{
		Dir:      p.Simulate(absent...),
		platform: p,
		boots:    make(map[string]int),
	}

	var hooks map[region.ID]region.StoreHook
	switch p {
	case platform.Carfield:
		hooks = map[region.ID]region.StoreHook{
			platform.CarfieldSocCtrl:   m.carfieldSocCtrl,
			platform.CarfieldMailboxes: m.carfieldMailboxes,
		}
	case platform.Occamy:
		hooks = map[region.ID]region.StoreHook{
			platform.OccamyCLINT: m.occamyCLINT,
		}
	default:
		return nil, fmt.Errorf("sim: no hardware model for platform %s", p.Name)
	}

	for id, fn := range hooks {
		if err := m.Dir.SetStoreHook(id, fn); err != nil {
			log.Warn("%s: no hardware model for region %s: %v", p.Name, p.RegionName(id), err)
		}
	}

	return m, nil
}

// NewCarfield creates a simulated Carfield platform.
func NewCarfield(absent ...region.ID) (*Machine, error) {
	return New(platform.Carfield, absent...)
}

// NewOccamy creates a simulated Occamy platform.
func NewOccamy(absent ...region.ID) (*Machine, error) {
	return New(platform.Occamy, absent...)
}

// Platform returns the platform of the machine.
func (m *Machine) Platform() *platform.Platform {
	return m.platform
}

// OnBoot registers a function called when an accelerator is started. It
// is called from within the register write which started it and must not
// block.
func (m *Machine) OnBoot(fn func(variant string)) {
	m.Lock()
	defer m.Unlock()
	m.onBoot = append(m.onBoot, fn)
}

// Boots returns how often the given accelerator has been started.
func (m *Machine) Boots(variant string) int {
	m.Lock()
	defer m.Unlock()
	return m.boots[variant]
}

func (m *Machine) boot(variant string) {
	m.Lock()
	m.boots[variant]++
	fns := append([]func(string){}, m.onBoot...)
	m.Unlock()

	log.Info("%s: %s started", m.platform.Name, variant)

	for _, fn := range fns {
		fn(variant)
	}
}

// carfieldSocCtrl mirrors isolation requests to their status registers
// and starts the safety island on fetch enable.
func (m *Machine) carfieldSocCtrl(w *region.Window, off uint64, value uint32) {
	switch off {
	case variants.SafetyIslandIsolate:
		w.MustStore32(variants.SafetyIslandIsolateStatus, value)
	case variants.SpatzIsolate:
		w.MustStore32(variants.SpatzIsolateStatus, value)
	case variants.SafetyIslandFetchEnable:
		if value&1 != 0 {
			m.boot("safety_island")
		}
	}
}

// carfieldMailboxes starts the Spatz cluster when the doorbell of the
// first host to Spatz mailbox rings while enabled.
func (m *Machine) carfieldMailboxes(w *region.Window, off uint64, value uint32) {
	mbox := variants.HostToSpatz0
	switch off {
	case mbox.SndSet:
		if value&1 != 0 && w.MustLoad32(mbox.SndEn)&1 != 0 {
			w.MustStore32(mbox.SndStat, 1)
			m.boot("spatz_cluster")
		}
	case mbox.SndClr:
		if value&1 != 0 {
			w.MustStore32(mbox.SndStat, 0)
		}
	}
}

// occamyCLINT starts the Snitch cluster when its software interrupts are
// raised.
func (m *Machine) occamyCLINT(_ *region.Window, off uint64, value uint32) {
	if off != 0 {
		return
	}
	m.Lock()
	prev := m.clint
	m.clint = value
	m.Unlock()

	if prev&variants.ClusterIRQs == 0 && value&variants.ClusterIRQs == variants.ClusterIRQs {
		m.boot("snitch_cluster")
	}
}
