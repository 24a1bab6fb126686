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
	"io"
	"sync"
	"time"
)

// DefaultTimestamps is the default number of timestamps kept.
const DefaultTimestamps = 128

// Timestamp is a labelled point in time.
type Timestamp struct {
	Info     string
	Function string
	Time     time.Time
}

// Timestamps is a bounded list of timestamps. Timestamps beyond the bound
// are dropped.
type Timestamps struct {
	sync.Mutex
	max     int
	list    []Timestamp
	dropped int
	now     func() time.Time
}

// NewTimestamps creates a list of at most max timestamps.
func NewTimestamps(max int) *Timestamps {
	return &Timestamps{
		max: max,
		now: time.Now,
	}
}

// Add appends a timestamp.
func (t *Timestamps) Add(info, function string) {
	t.Lock()
	defer t.Unlock()

	if len(t.list) >= t.max {
		if t.dropped == 0 {
			log.Warn("timestamps: maximum of %d reached", t.max)
		}
		t.dropped++
		return
	}
	t.list = append(t.list, Timestamp{Info: info, Function: function, Time: t.now()})
}

// List returns the timestamps taken so far.
func (t *Timestamps) List() []Timestamp {
	t.Lock()
	defer t.Unlock()
	return append([]Timestamp{}, t.list...)
}

// Dropped returns the number of timestamps dropped.
func (t *Timestamps) Dropped() int {
	t.Lock()
	defer t.Unlock()
	return t.dropped
}

// Reset drops all timestamps.
func (t *Timestamps) Reset() {
	t.Lock()
	defer t.Unlock()
	t.list = nil
	t.dropped = 0
}

// Dump writes the timestamps as a table of label, function, time and the
// difference to the next timestamp.
func (t *Timestamps) Dump(w io.Writer) error {
	list := t.List()

	if _, err := fmt.Fprintln(w, "info function time diff"); err != nil {
		return err
	}

	var diff time.Duration
	for i, ts := range list {
		if i < len(list)-1 {
			diff = list[i+1].Time.Sub(ts.Time)
		}
		_, err := fmt.Fprintf(w, "%s %s %s %s\n", ts.Info, ts.Function, seconds(ts.Time.UnixNano()),
			seconds(int64(diff)))
		if err != nil {
			return err
		}
	}
	return nil
}

func seconds(ns int64) string {
	sign := ""
	if ns < 0 {
		sign, ns = "-", -ns
	}
	return fmt.Sprintf("%s%d.%09d", sign, ns/int64(time.Second), ns%int64(time.Second))
}
