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

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultWarnThreshold is the number of retries after which a blocked
	// mailbox operation is reported.
	DefaultWarnThreshold = 100
	// DefaultMaxBackoff is the longest pause between two retries.
	DefaultMaxBackoff = 10 * time.Millisecond
	// DefaultWarnInterval limits how often a stalled mailbox is reported
	// after the first warning.
	DefaultWarnInterval = 10 * time.Second

	initialBackoff = time.Microsecond
	yieldRetries   = 8
)

// Option is an option for blocking mailbox access.
type Option func(*blocking) error

// WithWarnThreshold sets the retry count at which a stall is first reported.
func WithWarnThreshold(n int) Option {
	return func(b *blocking) error {
		if n <= 0 {
			return fmt.Errorf("mailbox: invalid warning threshold %d", n)
		}
		b.threshold = n
		return nil
	}
}

// WithMaxBackoff sets the longest pause between two retries.
func WithMaxBackoff(d time.Duration) Option {
	return func(b *blocking) error {
		if d < initialBackoff {
			return fmt.Errorf("mailbox: invalid maximum backoff %s", d)
		}
		b.maxBackoff = d
		return nil
	}
}

// WithWarnInterval sets the minimum interval between repeated stall warnings.
func WithWarnInterval(d time.Duration) Option {
	return func(b *blocking) error {
		b.limiter = rate.NewLimiter(rate.Every(d), 1)
		return nil
	}
}

type blocking struct {
	ring       *Ring
	what       string
	threshold  int
	maxBackoff time.Duration
	limiter    *rate.Limiter
}

func newBlocking(r *Ring, what string, options []Option) (*blocking, error) {
	b := &blocking{
		ring:       r,
		what:       what,
		threshold:  DefaultWarnThreshold,
		maxBackoff: DefaultMaxBackoff,
		limiter:    rate.NewLimiter(rate.Every(DefaultWarnInterval), 1),
	}
	for _, o := range options {
		if err := o(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// retry calls fn until it stops failing with the transient error. It never
// gives up on its own, only when ctx is done.
func (b *blocking) retry(ctx context.Context, transient error, fn func() error) error {
	var (
		retries int
		backoff = initialBackoff
		timer   *time.Timer
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		err := fn()
		if !errors.Is(err, transient) {
			if err == nil && retries >= b.threshold {
				log.Info("%s: %s completed after %d retries", b.ring.name, b.what, retries)
			}
			return err
		}

		retries++
		b.ring.stats.retries.Add(1)

		if retries == b.threshold {
			b.ring.stats.warnings.Add(1)
			b.limiter.Allow()
			log.Warn("%s: %s blocked for %d retries (%s)", b.ring.name, b.what, retries, b.ring)
		} else if retries > b.threshold && b.limiter.Allow() {
			b.ring.stats.warnings.Add(1)
			log.Warn("%s: %s still blocked after %d retries (%s)", b.ring.name, b.what, retries, b.ring)
		}

		if retries <= yieldRetries {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("mailbox: %s: %s: %w", b.ring.name, b.what, err)
			}
			runtime.Gosched()
			continue
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("mailbox: %s: %s: %w", b.ring.name, b.what, ctx.Err())
		case <-timer.C:
		}

		if backoff *= 2; backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}

// Writer writes words into a ring, waiting for free slots.
type Writer struct {
	b *blocking
}

// NewWriter creates a blocking writer for the producer side of a ring.
func NewWriter(r *Ring, options ...Option) (*Writer, error) {
	if r.ElementSize() != WordSize {
		return nil, fmt.Errorf("%w: %s: word writer on %d byte elements", ErrElementSize,
			r.name, r.ElementSize())
	}
	b, err := newBlocking(r, "write", options)
	if err != nil {
		return nil, err
	}
	return &Writer{b: b}, nil
}

// WriteWord writes a word, waiting as long as the ring is full.
func (w *Writer) WriteWord(ctx context.Context, word uint32) error {
	return w.b.retry(ctx, ErrMailboxFull, func() error {
		return w.b.ring.PutWord(word)
	})
}

// WriteWords writes words in order.
func (w *Writer) WriteWords(ctx context.Context, words ...uint32) error {
	for _, word := range words {
		if err := w.WriteWord(ctx, word); err != nil {
			return err
		}
	}
	return nil
}

// Ring returns the ring of the writer.
func (w *Writer) Ring() *Ring {
	return w.b.ring
}

// Reader reads words from a ring, waiting for data.
type Reader struct {
	b *blocking
}

// NewReader creates a blocking reader for the consumer side of a ring.
func NewReader(r *Ring, options ...Option) (*Reader, error) {
	if r.ElementSize() != WordSize {
		return nil, fmt.Errorf("%w: %s: word reader on %d byte elements", ErrElementSize,
			r.name, r.ElementSize())
	}
	b, err := newBlocking(r, "read", options)
	if err != nil {
		return nil, err
	}
	return &Reader{b: b}, nil
}

// ReadWord reads a word, waiting as long as the ring is empty.
func (r *Reader) ReadWord(ctx context.Context) (uint32, error) {
	var word uint32
	err := r.b.retry(ctx, ErrMailboxEmpty, func() error {
		w, err := r.b.ring.GetWord()
		word = w
		return err
	})
	return word, err
}

// ReadWords reads n words. The words are returned in the order they were
// written. On error the words read so far are returned with the error.
func (r *Reader) ReadWords(ctx context.Context, n int) ([]uint32, error) {
	words := make([]uint32, 0, n)
	for len(words) < n {
		w, err := r.ReadWord(ctx)
		if err != nil {
			return words, err
		}
		words = append(words, w)
	}
	return words, nil
}

// ReadMessage reads a variable length message: a length word in bytes
// followed by the payload padded to whole words.
func (r *Reader) ReadMessage(ctx context.Context) ([]byte, error) {
	n, err := r.ReadWord(ctx)
	if err != nil {
		return nil, err
	}
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s: message of %d bytes", ErrInvalidRing, r.b.ring.name, n)
	}
	words, err := r.ReadWords(ctx, int((n+WordSize-1)/WordSize))
	if err != nil {
		return nil, err
	}
	return unpackWords(words, int(n)), nil
}

// WriteMessage writes a variable length message in the format read by
// ReadMessage.
func (w *Writer) WriteMessage(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %s: message of %d bytes", ErrInvalidRing, w.b.ring.name, len(msg))
	}
	if err := w.WriteWord(ctx, uint32(len(msg))); err != nil {
		return err
	}
	return w.WriteWords(ctx, packWords(msg)...)
}

// Ring returns the ring of the reader.
func (r *Reader) Ring() *Ring {
	return r.b.ring
}
