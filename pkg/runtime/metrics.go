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

package runtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hero-runtime/libhero/pkg/heap"
	"github.com/hero-runtime/libhero/pkg/lifecycle"
	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/metrics"
)

// Stats are the usage statistics of a device.
type Stats struct {
	State lifecycle.State
	Near  heap.Stats
	Far   heap.Stats
	Rings []RingStats
}

// RingStats are the usage statistics of a mailbox ring.
type RingStats struct {
	Name  string
	Len   int
	Cap   int
	Stats mailbox.Stats
}

// Stats returns the usage statistics of the device. It never overlaps
// with Close, so the rings stay mapped while they are read.
func (d *Device) Stats() Stats {
	d.closeLock.RLock()
	defer d.closeLock.RUnlock()

	s := Stats{
		State: d.State(),
	}
	if d.closed.Load() {
		return s
	}

	d.heapLock.Lock()
	s.Near = d.near.alloc.Stats()
	s.Far = d.far.alloc.Stats()
	d.heapLock.Unlock()

	for _, r := range []*mailbox.Ring{d.h2a, d.a2h, d.rb} {
		s.Rings = append(s.Rings, RingStats{
			Name:  r.Name(),
			Len:   r.Len(),
			Cap:   r.Cap(),
			Stats: r.Stats(),
		})
	}
	return s
}

type heapCollector struct {
	d         *Device
	capacity  *prometheus.Desc
	allocated *prometheus.Desc
	peak      *prometheus.Desc
	allocs    *prometheus.Desc
	failures  *prometheus.Desc
}

type mailboxCollector struct {
	d        *Device
	occupied *prometheus.Desc
	capacity *prometheus.Desc
	puts     *prometheus.Desc
	gets     *prometheus.Desc
	retries  *prometheus.Desc
	warnings *prometheus.Desc
}

type lifecycleCollector struct {
	d     *Device
	state *prometheus.Desc
}

// RegisterMetrics registers the heap, mailbox and lifecycle collectors of
// the device, labelled with the name of the accelerator.
func (d *Device) RegisterMetrics(r *metrics.Registry) error {
	labels := prometheus.Labels{"device": d.variant.Name()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, variable, labels)
	}

	collectors := []struct {
		group     string
		collector prometheus.Collector
	}{
		{
			"heap",
			&heapCollector{
				d:         d,
				capacity:  desc("capacity_bytes", "Size of the shared heap.", "tier"),
				allocated: desc("allocated_bytes", "Bytes currently allocated.", "tier"),
				peak:      desc("peak_bytes", "Largest number of bytes allocated at once.", "tier"),
				allocs:    desc("allocations_total", "Number of successful allocations.", "tier"),
				failures:  desc("failures_total", "Number of failed allocations.", "tier"),
			},
		},
		{
			"mailbox",
			&mailboxCollector{
				d:        d,
				occupied: desc("occupied_slots", "Elements waiting in the ring.", "ring"),
				capacity: desc("capacity_slots", "Usable slots of the ring.", "ring"),
				puts:     desc("puts_total", "Elements put by the host.", "ring"),
				gets:     desc("gets_total", "Elements taken by the host.", "ring"),
				retries:  desc("retries_total", "Retries of blocking access.", "ring"),
				warnings: desc("stall_warnings_total", "Stall warnings of blocking access.", "ring"),
			},
		},
		{
			"lifecycle",
			&lifecycleCollector{
				d:     d,
				state: desc("state", "Lifecycle state, 1 for the current one.", "state"),
			},
		},
	}

	for _, c := range collectors {
		if err := r.Register(d.variant.Name(), c.collector, metrics.WithGroup(c.group)); err != nil {
			return err
		}
	}
	return nil
}

func (c *heapCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.capacity, c.allocated, c.peak, c.allocs, c.failures} {
		ch <- d
	}
}

func (c *heapCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.d.Stats()
	if c.d.closed.Load() {
		return
	}
	for tier, hs := range map[string]heap.Stats{"near": s.Near, "far": s.Far} {
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(hs.Capacity), tier)
		ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(hs.Allocated), tier)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(hs.Peak), tier)
		ch <- prometheus.MustNewConstMetric(c.allocs, prometheus.CounterValue, float64(hs.Allocations), tier)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(hs.Failures), tier)
	}
}

func (c *mailboxCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.occupied, c.capacity, c.puts, c.gets, c.retries, c.warnings} {
		ch <- d
	}
}

func (c *mailboxCollector) Collect(ch chan<- prometheus.Metric) {
	for _, r := range c.d.Stats().Rings {
		ch <- prometheus.MustNewConstMetric(c.occupied, prometheus.GaugeValue, float64(r.Len), r.Name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(r.Cap), r.Name)
		ch <- prometheus.MustNewConstMetric(c.puts, prometheus.CounterValue, float64(r.Stats.Puts), r.Name)
		ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(r.Stats.Gets), r.Name)
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(r.Stats.Retries), r.Name)
		ch <- prometheus.MustNewConstMetric(c.warnings, prometheus.CounterValue, float64(r.Stats.Warnings), r.Name)
	}
}

func (c *lifecycleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
}

func (c *lifecycleCollector) Collect(ch chan<- prometheus.Metric) {
	cur := c.d.State()
	for _, s := range lifecycle.States() {
		v := 0.0
		if s == cur {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}
