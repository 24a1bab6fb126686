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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/region"
)

var log = logger.Get("lifecycle")

// Region is a region of an accelerator as resolved by the controller.
type Region struct {
	Requirement
	// Mapping is nil if an optional region is unavailable.
	Mapping *region.Mapping
}

// Available returns true if the region is mapped.
func (r *Region) Available() bool {
	return r != nil && r.Mapping != nil
}

// Controller drives one accelerator through its lifecycle. The hardware
// specific steps are delegated to a Variant.
type Controller struct {
	sync.Mutex
	variant     Variant
	pollTimeout time.Duration
	regs        *Registers
	state       atomic.Int32
	dir         region.Directory
	regions     []*Region
	notify      []func(from, to State)
}

// Option is an option for a Controller.
type Option func(*Controller) error

// WithPollTimeout bounds register polls. Zero, the default, polls without
// a bound.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Controller) error {
		if d < 0 {
			return fmt.Errorf("lifecycle: invalid poll timeout %s", d)
		}
		c.pollTimeout = d
		return nil
	}
}

// WithStateNotifier registers a function called after every state change.
func WithStateNotifier(fn func(from, to State)) Option {
	return func(c *Controller) error {
		c.notify = append(c.notify, fn)
		return nil
	}
}

// NewController creates a controller for the given variant.
func NewController(v Variant, options ...Option) (*Controller, error) {
	if err := CheckRequirements(v); err != nil {
		return nil, err
	}

	c := &Controller{
		variant: v,
	}
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	c.regs = NewRegisters(c.pollTimeout)

	return c, nil
}

// Variant returns the variant of the controller.
func (c *Controller) Variant() Variant {
	return c.variant
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Registers returns the register blocks of the accelerator.
func (c *Controller) Registers() *Registers {
	return c.regs
}

// Regions returns the regions of the accelerator, including unavailable
// optional ones.
func (c *Controller) Regions() []*Region {
	c.Lock()
	defer c.Unlock()
	return slices.Clone(c.regions)
}

// Region returns the named region.
func (c *Controller) Region(name string) (*Region, bool) {
	c.Lock()
	defer c.Unlock()
	for _, r := range c.regions {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

func (c *Controller) setState(s State) {
	from := State(c.state.Swap(int32(s)))
	if from == s {
		return
	}
	log.Debug("%s: %s -> %s", c.variant.Name(), from, s)
	for _, fn := range c.notify {
		fn(from, s)
	}
}

func (c *Controller) transition(op string, from []State, to State, fn func() error) error {
	c.Lock()
	defer c.Unlock()

	if cur := c.State(); !slices.Contains(from, cur) {
		return fmt.Errorf("%w: %s: %s in state %s", ErrInvalidTransition, c.variant.Name(), op, cur)
	}

	if err := fn(); err != nil {
		log.Error("%s: %s failed: %v", c.variant.Name(), op, err)
		c.setState(Error)
		return fmt.Errorf("lifecycle: %s: %s: %w", c.variant.Name(), op, err)
	}

	c.setState(to)
	return nil
}

// Map resolves and maps all regions of the variant. A missing optional
// region is marked unavailable, a missing required region fails.
func (c *Controller) Map(dir region.Directory) error {
	return c.transition("map", []State{Unmapped}, Mapped, func() error {
		c.dir = dir
		for _, req := range c.variant.Regions() {
			r, err := c.mapRegion(req)
			if err != nil {
				if rerr := c.unmapLocked(); rerr != nil {
					err = multierror.Append(err, rerr)
				}
				return err
			}
			c.regions = append(c.regions, r)
			if r.Available() {
				c.regs.Add(r.Name, r.Mapping.Window)
			}
		}
		return nil
	})
}

func (c *Controller) mapRegion(req Requirement) (*Region, error) {
	r := &Region{Requirement: req}

	info, err := c.dir.Lookup(req.ID)
	if err != nil {
		if req.Optional && errors.Is(err, region.ErrRegionNotFound) {
			log.Info("%s: optional region %s unavailable: %v", c.variant.Name(), req.Name, err)
			return r, nil
		}
		return nil, fmt.Errorf("region %s: %w", req.Name, err)
	}

	length := req.Length
	if length == 0 || length > info.Size {
		length = info.Size
	}
	m, err := c.dir.Map(req.ID, length)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", req.Name, err)
	}

	if req.Optional && region.Probe(m.Window) {
		log.Info("%s: optional region %s reads back the absent hardware sentinel", c.variant.Name(), req.Name)
		if err := c.dir.Unmap(m); err != nil {
			return nil, fmt.Errorf("region %s: %w", req.Name, err)
		}
		return r, nil
	}

	log.Debug("%s: mapped region %s %s", c.variant.Name(), req.Name, m.Info)
	r.Mapping = m
	return r, nil
}

// Isolate disconnects the accelerator from the bus.
func (c *Controller) Isolate(ctx context.Context) error {
	return c.transition("isolate", []State{Mapped}, Isolated, func() error {
		return c.variant.Isolate(ctx, c.regs, true)
	})
}

// Configure resets the accelerator and sets it up for boot.
func (c *Controller) Configure(ctx context.Context, boot *BootInfo) error {
	return c.transition("configure", []State{Isolated}, Configured, func() error {
		if err := c.variant.Reset(ctx, c.regs); err != nil {
			return err
		}
		return c.variant.Configure(ctx, c.regs, boot)
	})
}

// Start boots the accelerator. Completion is only observable through the
// mailboxes.
func (c *Controller) Start(ctx context.Context, boot *BootInfo) error {
	return c.transition("start", []State{Configured}, Running, func() error {
		return c.variant.Boot(ctx, c.regs, boot)
	})
}

// Stop halts the accelerator if it has been touched and releases all
// region mappings. Stopping a controller in Error state only releases the
// mappings.
func (c *Controller) Stop(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	cur := c.State()
	switch cur {
	case Unmapped, Stopped:
		return fmt.Errorf("%w: %s: stop in state %s", ErrInvalidTransition, c.variant.Name(), cur)
	}

	var errs *multierror.Error
	switch cur {
	case Isolated, Configured, Running:
		if err := c.variant.Halt(ctx, c.regs); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("halt: %w", err))
		}
	}
	if err := c.unmapLocked(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		log.Error("%s: stop failed: %v", c.variant.Name(), err)
		c.setState(Error)
		return fmt.Errorf("lifecycle: %s: stop: %w", c.variant.Name(), err)
	}

	if cur != Error {
		c.setState(Stopped)
	}
	return nil
}

func (c *Controller) unmapLocked() error {
	var errs *multierror.Error
	for i := len(c.regions) - 1; i >= 0; i-- {
		r := c.regions[i]
		if !r.Available() {
			continue
		}
		c.regs.Remove(r.Name)
		if err := c.dir.Unmap(r.Mapping); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("unmap %s: %w", r.Name, err))
		}
		r.Mapping = nil
	}
	c.regions = nil
	return errs.ErrorOrNil()
}
