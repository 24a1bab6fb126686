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
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/hero-runtime/libhero/pkg/region"
)

// ResetHoldCycles is the number of cycles a reset is held asserted.
const ResetHoldCycles = 16

// Registers is a set of named register blocks of one accelerator. The
// blocks are mapped regions, accessed with 32-bit loads and stores.
type Registers struct {
	blocks      map[string]*region.Window
	pollTimeout time.Duration
}

// NewRegisters creates an empty register set. A zero poll timeout makes
// polls wait until the expected value shows up or the context is done.
func NewRegisters(pollTimeout time.Duration) *Registers {
	return &Registers{
		blocks:      make(map[string]*region.Window),
		pollTimeout: pollTimeout,
	}
}

// Add adds a named register block.
func (r *Registers) Add(name string, w *region.Window) {
	r.blocks[name] = w
}

// Remove removes a named register block.
func (r *Registers) Remove(name string) {
	delete(r.blocks, name)
}

// Has returns true if the named block is present.
func (r *Registers) Has(name string) bool {
	_, ok := r.blocks[name]
	return ok
}

// Names returns the names of all blocks, sorted.
func (r *Registers) Names() []string {
	names := make([]string, 0, len(r.blocks))
	for name := range r.blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Block returns the named register block.
func (r *Registers) Block(name string) (*region.Window, error) {
	w, ok := r.blocks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBlock, name)
	}
	return w, nil
}

// PollTimeout returns the bound of register polls.
func (r *Registers) PollTimeout() time.Duration {
	return r.pollTimeout
}

// Write32 writes a register.
func (r *Registers) Write32(block string, off uint64, value uint32) error {
	w, err := r.Block(block)
	if err != nil {
		return err
	}
	if err := w.Store32(off, value); err != nil {
		return fmt.Errorf("lifecycle: write %s+0x%x: %w", block, off, err)
	}
	return nil
}

// Read32 reads a register.
func (r *Registers) Read32(block string, off uint64) (uint32, error) {
	w, err := r.Block(block)
	if err != nil {
		return 0, err
	}
	v, err := w.Load32(off)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: read %s+0x%x: %w", block, off, err)
	}
	return v, nil
}

// Set sets bits of a register with a read-modify-write.
func (r *Registers) Set(block string, off uint64, mask uint32) error {
	v, err := r.Read32(block, off)
	if err != nil {
		return err
	}
	return r.Write32(block, off, v|mask)
}

// Clear clears bits of a register with a read-modify-write.
func (r *Registers) Clear(block string, off uint64, mask uint32) error {
	v, err := r.Read32(block, off)
	if err != nil {
		return err
	}
	return r.Write32(block, off, v&^mask)
}

// Fence orders register accesses.
func (r *Registers) Fence() {
	region.Fence()
}

// Hold waits for the given number of cycles.
func (r *Registers) Hold(cycles int) {
	for i := 0; i < cycles; i++ {
		region.Fence()
	}
}

// Poll reads a register until the masked value equals want.
func (r *Registers) Poll(ctx context.Context, block string, off uint64, mask, want uint32) error {
	w, err := r.Block(block)
	if err != nil {
		return err
	}

	var deadline time.Time
	if r.pollTimeout > 0 {
		deadline = time.Now().Add(r.pollTimeout)
	}

	for i := 0; ; i++ {
		v, err := w.Load32(off)
		if err != nil {
			return fmt.Errorf("lifecycle: poll %s+0x%x: %w", block, off, err)
		}
		if v&mask == want {
			return nil
		}

		if i%64 == 63 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("lifecycle: poll %s+0x%x: %w", block, off, err)
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return fmt.Errorf("%w: %s+0x%x reads 0x%x, expected 0x%x (mask 0x%x) after %s",
					ErrTimeout, block, off, v, want, mask, r.pollTimeout)
			}
		}
		runtime.Gosched()
	}
}
