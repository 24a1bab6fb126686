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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hero-runtime/libhero/pkg/config"
	logger "github.com/hero-runtime/libhero/pkg/log"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, cfg.Validate())

	cfg2, err := config.Parse([]byte(""))
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(cfg, cfg2))
}

func TestParse(t *testing.T) {
	type testCase struct {
		name   string
		yaml   string
		fail   bool
		modify func(*config.Config)
	}
	for _, tc := range []*testCase{
		{
			name: "device",
			yaml: `
device:
  platform: occamy
  variant: snitch_cluster
  simulate: true
  simulateAbsent: [ clint ]
  bootAddress: "0x8000_0000"
`,
			modify: func(c *config.Config) {
				c.Device.Platform = "occamy"
				c.Device.Variant = "snitch_cluster"
				c.Device.Simulate = true
				c.Device.SimulateAbsent = []string{"clint"}
				c.Device.BootAddress = "0x8000_0000"
			},
		},
		{
			name: "timing",
			yaml: `
lifecycle:
  pollTimeout: 2s
mailbox:
  slots: 32
  retryWarnThreshold: 1000
  maxBackoff: 1ms
`,
			modify: func(c *config.Config) {
				c.Lifecycle.PollTimeout = metav1.Duration{Duration: 2 * time.Second}
				c.Mailbox.Slots = 32
				c.Mailbox.RetryWarnThreshold = 1000
				c.Mailbox.MaxBackoff = metav1.Duration{Duration: time.Millisecond}
			},
		},
		{
			name: "heap and logging",
			yaml: `
heap:
  alignment: 64
  hostChunk: 8Ki
log:
  level: debug
  debug: [ "on:mailbox,heap" ]
  source: true
  klog:
    skip_headers: "true"
`,
			modify: func(c *config.Config) {
				q := resource.MustParse("8Ki")
				c.Heap.Alignment = 64
				c.Heap.HostChunk = &q
				c.Log = logger.Config{
					Level:     "debug",
					Debug:     []string{"on:mailbox,heap"},
					LogSource: true,
					Klog:      map[string]string{"skip_headers": "true"},
				}
			},
		},
		{name: "unknown field", yaml: "device:\n  colour: red\n", fail: true},
		{name: "bad alignment", yaml: "heap:\n  alignment: 24\n", fail: true},
		{name: "one slot", yaml: "mailbox:\n  slots: 1\n", fail: true},
		{name: "bad level", yaml: "log:\n  level: loud\n", fail: true},
		{name: "bad boot address", yaml: "device:\n  bootAddress: 0x1_0000_0000\n", fail: true},
		{name: "absent without simulation", yaml: "device:\n  simulateAbsent: [ l3 ]\n", fail: true},
		{name: "negative timeout", yaml: "lifecycle:\n  pollTimeout: -1s\n", fail: true},
		{name: "zero host chunk", yaml: "heap:\n  hostChunk: 0\n", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tc.yaml))
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			expected := config.Defaults()
			tc.modify(expected)
			require.Empty(t, cmp.Diff(expected, cfg))
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := config.Defaults()
	cfg.Device.Platform = ""
	cfg.Mailbox.Slots = 0
	cfg.Heap.Alignment = 3

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "device.platform")
	require.ErrorContains(t, err, "mailbox.slots")
	require.ErrorContains(t, err, "heap.alignment")
}

func TestAccessors(t *testing.T) {
	cfg := config.Defaults()
	addr, err := cfg.BootAddress()
	require.NoError(t, err)
	require.Zero(t, addr)
	require.Zero(t, cfg.HostChunkSize())

	cfg.Device.BootAddress = "0x60010080"
	q := resource.MustParse("4Ki")
	cfg.Heap.HostChunk = &q
	addr, err = cfg.BootAddress()
	require.NoError(t, err)
	require.Equal(t, uint64(0x60010080), addr)
	require.Equal(t, uint64(4096), cfg.HostChunkSize())

	data, err := cfg.Marshal()
	require.NoError(t, err)
	cfg2, err := config.Parse(data)
	require.NoError(t, err)
	require.Equal(t, cfg.HostChunkSize(), cfg2.HostChunkSize())
}

func TestLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libhero.yaml")

	_, err := config.Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("mailbox:\n  slots: 8\n"), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Mailbox.Slots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *config.Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, func(c *config.Config) { updates <- c })
	}()

	// rewrite until the watcher, which starts asynchronously, sees a change
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	var got *config.Config
	for got == nil {
		select {
		case got = <-updates:
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("mailbox:\n  slots: 64\n"), 0o644))
		case <-deadline:
			t.Fatal("no configuration update seen")
		}
	}
	require.Equal(t, 64, got.Mailbox.Slots)

	cancel()
	require.NoError(t, <-done)
}
