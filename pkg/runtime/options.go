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
	"fmt"
	"time"

	"github.com/hero-runtime/libhero/pkg/config"
	"github.com/hero-runtime/libhero/pkg/heap"
	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/metrics"
)

const (
	// DefaultSlots is the default number of slots of each mailbox ring.
	DefaultSlots = 16
)

// Option is an option for a Device.
type Option func(*Device) error

// WithPollTimeout bounds register polls during the lifecycle.
func WithPollTimeout(d time.Duration) Option {
	return func(dev *Device) error {
		if d < 0 {
			return fmt.Errorf("runtime: invalid poll timeout %s", d)
		}
		dev.pollTimeout = d
		return nil
	}
}

// WithMailboxOptions sets options for blocking mailbox I/O.
func WithMailboxOptions(options ...mailbox.Option) Option {
	return func(dev *Device) error {
		dev.mboxOpts = append(dev.mboxOpts, options...)
		return nil
	}
}

// WithSlots sets the number of slots of each mailbox ring.
func WithSlots(slots int) Option {
	return func(dev *Device) error {
		if slots < 2 {
			return fmt.Errorf("runtime: invalid number of mailbox slots %d", slots)
		}
		dev.slots = uint32(slots)
		return nil
	}
}

// WithHeapAlignment sets the alignment of shared heap allocations.
func WithHeapAlignment(align uint64) Option {
	return func(dev *Device) error {
		dev.align = align
		return nil
	}
}

// WithBootAddress overrides the default entry point of the accelerator.
func WithBootAddress(addr uint64) Option {
	return func(dev *Device) error {
		if addr>>32 != 0 {
			return fmt.Errorf("runtime: boot address 0x%x not addressable with 32 bits", addr)
		}
		dev.bootAddr = addr
		return nil
	}
}

// WithTimestamps sets the number of timestamps kept.
func WithTimestamps(n int) Option {
	return func(dev *Device) error {
		if n < 0 {
			return fmt.Errorf("runtime: invalid number of timestamps %d", n)
		}
		dev.ts = NewTimestamps(n)
		return nil
	}
}

// WithHostChunkSize overrides the size of host memory chunks offered to
// clients by variants which offer them.
func WithHostChunkSize(size uint64) Option {
	return func(dev *Device) error {
		dev.hostChunk = size
		return nil
	}
}

// WithLogSource sets the log source of the device.
func WithLogSource(source string) Option {
	return func(dev *Device) error {
		dev.log = logger.Get(source)
		return nil
	}
}

// WithMetrics registers the collectors of the device with a registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(dev *Device) error {
		dev.metrics = r
		return nil
	}
}

// WithConfig applies the runtime related sections of a configuration.
func WithConfig(cfg *config.Config) Option {
	return func(dev *Device) error {
		addr, err := cfg.BootAddress()
		if err != nil {
			return err
		}

		options := []Option{
			WithPollTimeout(cfg.Lifecycle.PollTimeout.Duration),
			WithSlots(cfg.Mailbox.Slots),
			WithMailboxOptions(
				mailbox.WithWarnThreshold(cfg.Mailbox.RetryWarnThreshold),
				mailbox.WithMaxBackoff(cfg.Mailbox.MaxBackoff.Duration),
				mailbox.WithWarnInterval(cfg.Mailbox.WarnInterval.Duration),
			),
			WithHeapAlignment(cfg.Heap.Alignment),
			WithBootAddress(addr),
			WithTimestamps(cfg.Device.Timestamps),
			WithHostChunkSize(cfg.HostChunkSize()),
		}
		for _, o := range options {
			if err := o(dev); err != nil {
				return err
			}
		}
		return nil
	}
}

func defaultDevice() *Device {
	return &Device{
		log:   log,
		slots: DefaultSlots,
		align: heap.DefaultAlignment,
		ts:    NewTimestamps(DefaultTimestamps),
	}
}
