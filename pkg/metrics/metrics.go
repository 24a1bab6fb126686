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

package metrics

import (
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	logger "github.com/hero-runtime/libhero/pkg/log"
)

var log = logger.Get("metrics")

// State is the configuration of a collector or a group of collectors.
type State int

const (
	// Enabled marks a collector as enabled.
	Enabled State = (1 << iota)
	// NamespacePrefix causes the metrics of a collector to be prefixed
	// with the namespace of the gatherer.
	NamespacePrefix
	// SubsystemPrefix causes the metrics of a collector to be prefixed
	// with the name of its group.
	SubsystemPrefix

	// DefaultGroup is the group of collectors registered without one.
	DefaultGroup = "default"
)

// IsEnabled returns true if the collector is enabled.
func (s State) IsEnabled() bool {
	return s&Enabled != 0
}

// NeedsNamespace returns true if the collector needs a namespace prefix.
func (s State) NeedsNamespace() bool {
	return s&NamespacePrefix != 0
}

// NeedsSubsystem returns true if the collector needs a group prefix.
func (s State) NeedsSubsystem() bool {
	return s&SubsystemPrefix != 0
}

func (s State) String() string {
	flags := []string{"disabled"}
	if s.IsEnabled() {
		flags[0] = "enabled"
	}
	if s.NeedsNamespace() {
		flags = append(flags, "namespace-prefixed")
	}
	if s.NeedsSubsystem() {
		flags = append(flags, "subsystem-prefixed")
	}
	return strings.Join(flags, ",")
}

// Collector is a registered prometheus.Collector.
type Collector struct {
	State
	collector prometheus.Collector
	name      string
	group     string
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace disables namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.State &^= NamespacePrefix
	}
}

// WithoutSubsystem disables group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.State &^= SubsystemPrefix
	}
}

// Name returns the qualified name, group/name, of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Matches returns true if the collector matches the given glob. A glob
// can match the group, the name or the qualified name.
func (c *Collector) Matches(glob string) bool {
	for _, name := range []string{c.group, c.name, c.Name()} {
		if glob == name {
			return true
		}
		ok, err := path.Match(glob, name)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if !c.IsEnabled() {
		return
	}
	log.Trace("collecting %q", c.Name())
	c.collector.Collect(ch)
}

// Enable enables or disables the collector.
func (c *Collector) Enable(state bool) {
	if state {
		c.State |= Enabled
	} else {
		c.State &^= Enabled
	}
}

// Registry is a collection of collector groups.
type Registry struct {
	sync.Mutex
	groups map[string][]*Collector
}

// RegisterOptions are options for registering collectors.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering collectors.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultGroup
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string][]*Collector),
	}
}

// Register registers a collector with the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	o := &RegisterOptions{group: DefaultGroup}
	for _, opt := range opts {
		opt(o)
	}

	r.Lock()
	defer r.Unlock()

	for _, c := range r.groups[o.group] {
		if c.name == name {
			return fmt.Errorf("metrics: collector %s/%s already registered", o.group, name)
		}
	}

	c := &Collector{
		State:     Enabled | NamespacePrefix | SubsystemPrefix,
		collector: collector,
		name:      name,
		group:     o.group,
	}
	for _, opt := range o.copts {
		opt(c)
	}

	r.groups[o.group] = append(r.groups[o.group], c)
	log.Info("registered collector %q", c.Name())

	return nil
}

// Collectors returns the qualified names of all registered collectors.
func (r *Registry) Collectors() []string {
	r.Lock()
	defer r.Unlock()

	var names []string
	for _, grp := range r.groups {
		for _, c := range grp {
			names = append(names, c.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Configure enables the collectors matching any of the given globs and
// disables the rest. Globs that match no collector are reported as an
// error, with the configuration still applied.
func (r *Registry) Configure(enabled []string) error {
	r.Lock()
	defer r.Unlock()

	log.Info("configuring collectors, enabled=[%s]", strings.Join(enabled, ","))

	matched := map[string]bool{}
	for _, grp := range r.groups {
		for _, c := range grp {
			c.Enable(false)
			for _, glob := range enabled {
				if c.Matches(glob) {
					matched[glob] = true
					c.Enable(true)
				}
			}
			log.Debug("collector %q now %s", c.Name(), c.State)
		}
	}

	var unmatched []string
	for _, glob := range enabled {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return fmt.Errorf("metrics: no collectors match %s", strings.Join(unmatched, ", "))
	}
	return nil
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix != "" {
		return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
	}
	return reg
}

// Gatherer is a prometheus gatherer for a registry.
type Gatherer struct {
	*prometheus.Registry
	namespace string
	enabled   []string
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the common namespace prefix of gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithEnabled sets the globs of the collectors to enable. Without it all
// collectors are enabled.
func WithEnabled(globs ...string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = globs
	}
}

// NewGatherer creates a gatherer for the registry.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry: prometheus.NewPedanticRegistry(),
		enabled:  []string{"*"},
	}
	for _, o := range opts {
		o(g)
	}

	if err := r.Configure(g.enabled); err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	ns := prefixedRegisterer(g.namespace, g.Registry)
	for name, grp := range r.groups {
		for _, c := range grp {
			var reg prometheus.Registerer
			switch {
			case c.NeedsNamespace() && c.NeedsSubsystem():
				reg = prefixedRegisterer(name, ns)
			case c.NeedsNamespace():
				reg = ns
			case c.NeedsSubsystem():
				reg = prefixedRegisterer(name, g.Registry)
			default:
				reg = g.Registry
			}
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("metrics: failed to register %s: %w", c.Name(), err)
			}
		}
	}

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	return g.Registry.Gather()
}

// Dump gathers all metrics and writes them to w in the text exposition
// format.
func (g *Gatherer) Dump(w io.Writer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: failed to gather: %w", err)
	}
	for _, f := range families {
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			return fmt.Errorf("metrics: failed to dump %s: %w", f.GetName(), err)
		}
	}
	return nil
}
