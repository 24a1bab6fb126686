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

// Package collectors registers the standard process level collectors.
package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hero-runtime/libhero/pkg/metrics"
)

// Register registers the build info, Go runtime and process collectors in
// the "standard" group, without any prefixes.
func Register(r *metrics.Registry) error {
	var (
		standard = []struct {
			name      string
			collector prometheus.Collector
		}{
			{"buildinfo", collectors.NewBuildInfoCollector()},
			{"golang", collectors.NewGoCollector()},
			{"process", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})},
		}
		options = []metrics.RegisterOption{
			metrics.WithGroup("standard"),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		}
	)

	for _, s := range standard {
		if err := r.Register(s.name, s.collector, options...); err != nil {
			return err
		}
	}
	return nil
}
