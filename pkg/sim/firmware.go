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

package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/hero-runtime/libhero/pkg/mailbox"
	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
	"github.com/hero-runtime/libhero/pkg/variants"
)

// Handler computes the reply words of the firmware to a host word.
type Handler func(word uint32) []uint32

// Echo replies with the word received.
func Echo(word uint32) []uint32 {
	return []uint32{word}
}

// Firmware is a device side double. It finds the mailboxes the way the
// real firmware does, through the physical addresses the runtime wrote
// into the device registers, and accesses them through device views.
type Firmware struct {
	H2A *mailbox.Ring
	A2H *mailbox.Ring
	// RB is nil on platforms which don't pass the message ring.
	RB *mailbox.Ring

	reader *mailbox.Reader
	writer *mailbox.Writer
	msgs   *mailbox.Writer
}

// Firmware locates the mailboxes of a configured accelerator.
func (m *Machine) Firmware() (*Firmware, error) {
	var h2a, a2h, rb uint64

	switch m.platform {
	case platform.Carfield:
		regs, err := m.Dir.Memory(platform.CarfieldCtrlRegs)
		if err != nil {
			return nil, err
		}
		h2a = uint64(regs.MustLoad32(0x0))
		a2h = uint64(regs.MustLoad32(0x4))

	case platform.Occamy:
		soc, err := m.Dir.Memory(platform.OccamySocCtrl)
		if err != nil {
			return nil, err
		}
		blk, err := m.Dir.Resolve(uint64(soc.MustLoad32(variants.SocCtrlScratch2)), variants.LayoutSize)
		if err != nil {
			return nil, fmt.Errorf("sim: boot parameter block: %w", err)
		}
		layout, err := variants.DecodeLayout(blk.Bytes())
		if err != nil {
			return nil, err
		}
		h2a, a2h, rb = uint64(layout.H2A), uint64(layout.A2H), uint64(layout.RB)
	}

	return AttachFirmware(m.Dir, h2a, a2h, rb)
}

// AttachFirmware creates a firmware double for the mailboxes at the given
// physical addresses. A zero rb leaves the message ring unused.
func AttachFirmware(mem region.Resolver, h2a, a2h, rb uint64) (*Firmware, error) {
	var (
		f   = &Firmware{}
		err error
	)

	if f.H2A, err = mailbox.DeviceView("fw-h2a", h2a, mem); err != nil {
		return nil, err
	}
	if f.A2H, err = mailbox.DeviceView("fw-a2h", a2h, mem); err != nil {
		return nil, err
	}
	if rb != 0 {
		if f.RB, err = mailbox.DeviceView("fw-rb", rb, mem); err != nil {
			return nil, err
		}
		if f.msgs, err = mailbox.NewWriter(f.RB); err != nil {
			return nil, err
		}
	}
	if f.reader, err = mailbox.NewReader(f.H2A); err != nil {
		return nil, err
	}
	if f.writer, err = mailbox.NewWriter(f.A2H); err != nil {
		return nil, err
	}

	return f, nil
}

// Get takes one word from the host, without waiting.
func (f *Firmware) Get() (uint32, error) {
	return f.H2A.GetWord()
}

// Put sends one word to the host, without waiting.
func (f *Firmware) Put(w uint32) error {
	return f.A2H.PutWord(w)
}

// Print sends a message on the message ring.
func (f *Firmware) Print(ctx context.Context, msg string) error {
	if f.msgs == nil {
		return fmt.Errorf("sim: no message ring")
	}
	return f.msgs.WriteMessage(ctx, []byte(msg))
}

// Run announces the device as ready, then answers host words with the
// handler until the host sends DEVICE_STOP, which is acknowledged with
// DEVICE_DONE, or ctx is done.
func (f *Firmware) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		handler = Echo
	}

	if err := f.writer.WriteWord(ctx, mailbox.DeviceReady); err != nil {
		return err
	}

	for {
		w, err := f.reader.ReadWord(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		log.Debug("firmware: received %s", mailbox.ControlName(w))

		if w == mailbox.DeviceStop {
			return f.writer.WriteWord(ctx, mailbox.DeviceDone)
		}
		if err := f.writer.WriteWords(ctx, handler(w)...); err != nil {
			return err
		}
	}
}

// RunOnBoot starts a firmware double in a goroutine whenever an
// accelerator of the machine is started. Errors are sent to the returned
// channel, or logged if nobody keeps up reading them.
func (m *Machine) RunOnBoot(ctx context.Context, handler Handler) <-chan error {
	errCh := make(chan error, 4)
	report := func(err error) {
		select {
		case errCh <- err:
		default:
			log.Error("%v", err)
		}
	}

	m.OnBoot(func(variant string) {
		fw, err := m.Firmware()
		if err != nil {
			report(fmt.Errorf("sim: %s: %w", variant, err))
			return
		}
		go func() {
			if err := fw.Run(ctx, handler); err != nil {
				report(fmt.Errorf("sim: %s: %w", variant, err))
			}
		}()
	})

	return errCh
}
