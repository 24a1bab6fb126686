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

// Package metrics is a thin layer over prometheus for the runtime. Collectors
// are registered by name into groups. A Gatherer exposes the enabled ones,
// prefixed with a common namespace and the name of their group.
//
// Typical use:
//
//	reg := metrics.NewRegistry()
//	dev.RegisterMetrics(reg)
//	collectors.Register(reg)
//
//	g, err := reg.NewGatherer(metrics.WithNamespace("libhero"), metrics.WithEnabled("*"))
//	if err != nil {
//	    return err
//	}
//	http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
