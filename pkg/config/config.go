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

// Package config holds the runtime configuration, read from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/utils"
)

const (
	// DefaultPlatform is the platform used if none is configured.
	DefaultPlatform = "carfield"
	// DefaultVariant is the accelerator used if none is configured.
	DefaultVariant = "spatz_cluster"
	// DefaultMailboxSlots is the number of slots of each mailbox ring.
	DefaultMailboxSlots = 16
	// DefaultRetryWarnThreshold is the mailbox retry count which is reported.
	DefaultRetryWarnThreshold = 100
	// DefaultMaxBackoff is the longest pause between mailbox retries.
	DefaultMaxBackoff = 10 * time.Millisecond
	// DefaultWarnInterval is the interval of repeated mailbox stall warnings.
	DefaultWarnInterval = 10 * time.Second
	// DefaultHeapAlignment is the alignment of shared heap allocations.
	DefaultHeapAlignment = 32
	// DefaultTimestamps is the number of timestamps kept.
	DefaultTimestamps = 128
	// DefaultMetricsNamespace prefixes all metrics.
	DefaultMetricsNamespace = "libhero"
)

// Config is the runtime configuration.
type Config struct {
	Device    DeviceConfig    `json:"device"`
	Lifecycle LifecycleConfig `json:"lifecycle,omitempty"`
	Mailbox   MailboxConfig   `json:"mailbox,omitempty"`
	Heap      HeapConfig      `json:"heap,omitempty"`
	Log       logger.Config   `json:"log,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// DeviceConfig selects the accelerator to drive.
type DeviceConfig struct {
	// Platform is the name of the platform.
	Platform string `json:"platform,omitempty"`
	// Variant is the name of the accelerator.
	Variant string `json:"variant,omitempty"`
	// Node is the driver device node, empty for the platform default.
	Node string `json:"node,omitempty"`
	// Simulate runs against a simulated platform instead of the driver.
	Simulate bool `json:"simulate,omitempty"`
	// SimulateAbsent lists regions the simulated platform lacks.
	SimulateAbsent []string `json:"simulateAbsent,omitempty"`
	// BootAddress overrides the default entry point of the accelerator.
	BootAddress string `json:"bootAddress,omitempty"`
	// Timestamps is the number of timestamps kept.
	Timestamps int `json:"timestamps,omitempty"`
}

// LifecycleConfig configures the lifecycle controller.
type LifecycleConfig struct {
	// PollTimeout bounds register polls. Zero polls forever.
	PollTimeout metav1.Duration `json:"pollTimeout,omitempty"`
}

// MailboxConfig configures the mailboxes.
type MailboxConfig struct {
	// Slots is the number of slots of each ring.
	Slots int `json:"slots,omitempty"`
	// RetryWarnThreshold is the retry count at which a stall is reported.
	RetryWarnThreshold int `json:"retryWarnThreshold,omitempty"`
	// MaxBackoff is the longest pause between retries.
	MaxBackoff metav1.Duration `json:"maxBackoff,omitempty"`
	// WarnInterval is the minimum interval of repeated stall warnings.
	WarnInterval metav1.Duration `json:"warnInterval,omitempty"`
}

// HeapConfig configures the shared heaps.
type HeapConfig struct {
	// Alignment of allocations, a power of 2.
	Alignment uint64 `json:"alignment,omitempty"`
	// HostChunk overrides the size of host memory chunks offered to
	// clients, for variants which offer them.
	HostChunk *resource.Quantity `json:"hostChunk,omitempty"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled lists globs of enabled metrics groups.
	Enabled []string `json:"enabled,omitempty"`
	// Namespace prefixes all metrics.
	Namespace string `json:"namespace,omitempty"`
	// Listen is the address metrics are served on, empty to disable.
	Listen string `json:"listen,omitempty"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			Platform:   DefaultPlatform,
			Variant:    DefaultVariant,
			Timestamps: DefaultTimestamps,
		},
		Mailbox: MailboxConfig{
			Slots:              DefaultMailboxSlots,
			RetryWarnThreshold: DefaultRetryWarnThreshold,
			MaxBackoff:         metav1.Duration{Duration: DefaultMaxBackoff},
			WarnInterval:       metav1.Duration{Duration: DefaultWarnInterval},
		},
		Heap: HeapConfig{
			Alignment: DefaultHeapAlignment,
		},
		Metrics: MetricsConfig{
			Enabled:   []string{"*"},
			Namespace: DefaultMetricsNamespace,
		},
	}
}

// Load reads the configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a YAML configuration. Unset fields take their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal returns the YAML representation of the configuration.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Device.Platform == "" {
		errs = multierror.Append(errs, fmt.Errorf("device.platform not set"))
	}
	if c.Device.Variant == "" {
		errs = multierror.Append(errs, fmt.Errorf("device.variant not set"))
	}
	if len(c.Device.SimulateAbsent) > 0 && !c.Device.Simulate {
		errs = multierror.Append(errs, fmt.Errorf("device.simulateAbsent needs device.simulate"))
	}
	if _, err := c.BootAddress(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Device.Timestamps < 0 {
		errs = multierror.Append(errs, fmt.Errorf("device.timestamps: invalid count %d", c.Device.Timestamps))
	}
	if c.Lifecycle.PollTimeout.Duration < 0 {
		errs = multierror.Append(errs, fmt.Errorf("lifecycle.pollTimeout: negative timeout %s",
			c.Lifecycle.PollTimeout.Duration))
	}
	if c.Mailbox.Slots < 2 {
		errs = multierror.Append(errs, fmt.Errorf("mailbox.slots: need at least 2 slots, got %d",
			c.Mailbox.Slots))
	}
	if c.Mailbox.RetryWarnThreshold <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("mailbox.retryWarnThreshold: invalid threshold %d",
			c.Mailbox.RetryWarnThreshold))
	}
	if c.Mailbox.MaxBackoff.Duration < time.Microsecond {
		errs = multierror.Append(errs, fmt.Errorf("mailbox.maxBackoff: %s is too short",
			c.Mailbox.MaxBackoff.Duration))
	}
	if c.Mailbox.WarnInterval.Duration <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("mailbox.warnInterval: invalid interval %s",
			c.Mailbox.WarnInterval.Duration))
	}
	if a := c.Heap.Alignment; a < 8 || !utils.IsPowerOf2(a) {
		errs = multierror.Append(errs, fmt.Errorf("heap.alignment: invalid alignment %d", a))
	}
	if q := c.Heap.HostChunk; q != nil && q.Sign() <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("heap.hostChunk: invalid size %s", q))
	}
	if c.Log.Level != "" {
		if _, err := logger.ParseLevel(c.Log.Level); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	for _, glob := range c.Metrics.Enabled {
		if strings.TrimSpace(glob) == "" {
			errs = multierror.Append(errs, fmt.Errorf("metrics.enabled: empty glob"))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// BootAddress returns the configured boot address, zero for the default.
func (c *Config) BootAddress() (uint64, error) {
	if c.Device.BootAddress == "" {
		return 0, nil
	}
	addr, err := utils.ParseUint(c.Device.BootAddress, 32)
	if err != nil {
		return 0, fmt.Errorf("device.bootAddress: %w", err)
	}
	return addr, nil
}

// HostChunkSize returns the configured host chunk size, zero for the
// variant default.
func (c *Config) HostChunkSize() uint64 {
	if c.Heap.HostChunk == nil {
		return 0
	}
	return uint64(c.Heap.HostChunk.Value())
}
