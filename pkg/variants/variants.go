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

// Package variants implements the accelerators the runtime can drive.
package variants

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hero-runtime/libhero/pkg/lifecycle"
	logger "github.com/hero-runtime/libhero/pkg/log"
)

var log = logger.Get("variants")

// HostChunk is a host memory buffer a variant offers to clients as global
// memory.
type HostChunk struct {
	Alias string
	Size  uint64
}

// HostChunker is implemented by variants which offer host DMA memory to
// clients as global memory.
type HostChunker interface {
	HostChunks() []HostChunk
}

type factory struct {
	create  func() lifecycle.Variant
	aliases []string
}

var factories = map[string]*factory{}

func register(name string, create func() lifecycle.Variant, aliases ...string) {
	factories[name] = &factory{create: create, aliases: aliases}
}

// Get creates the named variant. A variant can also be looked up by any
// of its aliases.
func Get(name string) (lifecycle.Variant, error) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	for n, f := range factories {
		if n == name {
			return f.create(), nil
		}
		for _, a := range f.aliases {
			if a == name {
				return f.create(), nil
			}
		}
	}
	return nil, fmt.Errorf("variants: unknown variant %q (known: %s)", name, strings.Join(Names(), ", "))
}

// Names returns the names of all variants.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases of the named variant.
func Aliases(name string) []string {
	if f, ok := factories[name]; ok {
		return append([]string{}, f.aliases...)
	}
	return nil
}

// setIsolate asserts or withdraws isolation and waits for the status
// register to follow.
func setIsolate(ctx context.Context, regs *lifecycle.Registers, block string, isolate, status uint64, on bool) error {
	val := uint32(0)
	if on {
		val = 1
	}
	if err := regs.Write32(block, isolate, val); err != nil {
		return err
	}
	regs.Fence()
	return regs.Poll(ctx, block, status, 1, val)
}

// writeMailboxes tells the device where the mailbox headers are.
func writeMailboxes(regs *lifecycle.Registers, block string, boot *lifecycle.BootInfo) error {
	if boot.H2A>>32 != 0 || boot.A2H>>32 != 0 {
		return fmt.Errorf("variants: mailboxes at 0x%x/0x%x not addressable with 32 bits", boot.H2A, boot.A2H)
	}
	if err := regs.Write32(block, 0x0, uint32(boot.H2A)); err != nil {
		return err
	}
	if err := regs.Write32(block, 0x4, uint32(boot.A2H)); err != nil {
		return err
	}
	regs.Fence()
	return nil
}

// writeSequence performs register writes in order, fencing after each.
func writeSequence(regs *lifecycle.Registers, writes ...regWrite) error {
	for _, w := range writes {
		if w.hold > 0 {
			regs.Hold(w.hold)
			continue
		}
		if err := regs.Write32(w.block, w.off, w.value); err != nil {
			return err
		}
		regs.Fence()
	}
	return nil
}

type regWrite struct {
	block string
	off   uint64
	value uint32
	hold  int
}

func write(block string, off uint64, value uint32) regWrite {
	return regWrite{block: block, off: off, value: value}
}

func hold(cycles int) regWrite {
	return regWrite{hold: cycles}
}
