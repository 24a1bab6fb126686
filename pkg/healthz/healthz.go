// Copyright 2023 Intel Corporation. All Rights Reserved.
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

// Package healthz serves health checks of runtime components over HTTP.
package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	logger "github.com/hero-runtime/libhero/pkg/log"
)

var log = logger.Get("health-check")

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// CheckFn reports the health of a component, with details if it's not
// healthy.
type CheckFn func() (status Status, details error)

// Checker is a set of named health checks.
type Checker struct {
	sync.Mutex
	checks map[string]CheckFn
}

// NewChecker creates an empty set of health checks.
func NewChecker() *Checker {
	return &Checker{checks: map[string]CheckFn{}}
}

// Register registers a health check.
func (c *Checker) Register(name string, fn CheckFn) error {
	c.Lock()
	defer c.Unlock()

	if _, conflict := c.checks[name]; conflict {
		return fmt.Errorf("healthz: checker %q already registered", name)
	}
	c.checks[name] = fn
	return nil
}

// Check runs all health checks. The overall status is the worst reported
// one.
func (c *Checker) Check() (Status, map[string]error) {
	c.Lock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := c.checks
	c.Unlock()
	sort.Strings(names)

	status := Healthy
	details := map[string]error{}
	for _, name := range names {
		s, err := checks[name]()
		if s == Healthy {
			continue
		}
		status = max(status, s)
		if err == nil {
			err = fmt.Errorf("%s", s)
		}
		details[name] = err
		log.Warn("component %s reported %s: %v", name, s, err)
	}

	return status, details
}

// Setup prepares the given HTTP request multiplexer for serving /healthz.
func (c *Checker) Setup(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", c.serve)
}

func (c *Checker) serve(w http.ResponseWriter, _ *http.Request) {
	status, details := c.Check()
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("failed to write response: %v", err)
		}
		return
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", status)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %v\n", name, details[name])
	}

	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(b.String())); err != nil {
		log.Error("failed to write response: %v", err)
	}
}
