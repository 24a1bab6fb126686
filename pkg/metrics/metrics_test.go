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

package metrics_test

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	logger "github.com/hero-runtime/libhero/pkg/log"
	"github.com/hero-runtime/libhero/pkg/metrics"
	"github.com/hero-runtime/libhero/pkg/metrics/collectors"
)

func TestPrefixes(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "plain", metrics.WithCollectorOptions(metrics.WithoutNamespace(), metrics.WithoutSubsystem()))
	newTestGauge(t, r, "grouped", metrics.WithGroup("heap"), metrics.WithCollectorOptions(metrics.WithoutNamespace()))
	newTestGauge(t, r, "spaced", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "full", metrics.WithGroup("mailbox"))

	srv := newTestServer(t, r, metrics.WithNamespace("libhero"))
	defer srv.Close()

	types, values := collect(t, srv)
	require.True(t, types.HasEntry("plain", "gauge"))
	require.True(t, types.HasEntry("heap_grouped", "gauge"))
	require.True(t, types.HasEntry("libhero_spaced", "gauge"))
	require.True(t, types.HasEntry("libhero_mailbox_full", "gauge"))
	require.Equal(t, "0", values.GetValue("libhero_mailbox_full"))
}

func TestUpdatedValues(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "g1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	g2 := newTestGauge(t, r, "g2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	srv := newTestServer(t, r)
	defer srv.Close()

	_, values := collect(t, srv)
	require.Equal(t, "0", values.GetValue("g1"))
	require.Equal(t, "0", values.GetValue("g2"))

	g1.Inc()
	g2.Set(5)

	_, values = collect(t, srv)
	require.Equal(t, "1", values.GetValue("g1"))
	require.Equal(t, "5", values.GetValue("g2"))
}

func TestEnabledGlobs(t *testing.T) {
	type testCase struct {
		name     string
		enabled  []string
		expected []string
		missing  []string
		fail     bool
	}

	for _, tc := range []*testCase{
		{
			name:     "all",
			enabled:  []string{"*"},
			expected: []string{"heap_near", "heap_far", "mailbox_h2a"},
		},
		{
			name:     "by group",
			enabled:  []string{"heap"},
			expected: []string{"heap_near", "heap_far"},
			missing:  []string{"mailbox_h2a"},
		},
		{
			name:     "by qualified name",
			enabled:  []string{"heap/near", "mailbox/*"},
			expected: []string{"heap_near", "mailbox_h2a"},
			missing:  []string{"heap_far"},
		},
		{
			name:     "by name glob",
			enabled:  []string{"*a*"},
			expected: []string{"heap_near", "heap_far", "mailbox_h2a"},
		},
		{
			name:    "unmatched",
			enabled: []string{"heap", "lifecycle"},
			fail:    true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := metrics.NewRegistry()
			newTestGauge(t, r, "near", metrics.WithGroup("heap"), metrics.WithCollectorOptions(metrics.WithoutNamespace()))
			newTestGauge(t, r, "far", metrics.WithGroup("heap"), metrics.WithCollectorOptions(metrics.WithoutNamespace()))
			newTestGauge(t, r, "h2a", metrics.WithGroup("mailbox"), metrics.WithCollectorOptions(metrics.WithoutNamespace()))

			g, err := r.NewGatherer(metrics.WithEnabled(tc.enabled...))
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			mfs, err := g.Gather()
			require.NoError(t, err)

			names := map[string]bool{}
			for _, mf := range mfs {
				names[mf.GetName()] = true
			}
			for _, name := range tc.expected {
				require.True(t, names[name], "metric %s", name)
			}
			for _, name := range tc.missing {
				require.False(t, names[name], "metric %s", name)
			}
		})
	}
}

func TestDuplicateRegistration(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "dup")
	require.Error(t, r.Register("dup", prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup", Help: "dup"})))
	require.NoError(t, r.Register("dup", prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup", Help: "dup"}),
		metrics.WithGroup("other")))
	require.Equal(t, []string{"default/dup", "other/dup"}, r.Collectors())
}

func TestStandardCollectors(t *testing.T) {
	r := metrics.NewRegistry()
	require.NoError(t, collectors.Register(r))

	g, err := r.NewGatherer(metrics.WithNamespace("libhero"), metrics.WithEnabled("standard"))
	require.NoError(t, err)

	mfs, err := g.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "go_") {
			found = true
		}
		require.False(t, strings.HasPrefix(mf.GetName(), "libhero_"), mf.GetName())
	}
	require.True(t, found, "Go runtime metrics")
}

func TestDump(t *testing.T) {
	r := metrics.NewRegistry()

	g := newTestGauge(t, r, "occupied", metrics.WithGroup("mailbox"))
	g.Set(3)
	newTestGauge(t, r, "capacity", metrics.WithGroup("heap"))

	gatherer, err := r.NewGatherer(metrics.WithNamespace("libhero"))
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, gatherer.Dump(buf))

	var values collected
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.HasPrefix(line, "#") {
			values = append(values, line)
		}
	}
	require.Equal(t, "3", values.GetValue("libhero_mailbox_occupied"))
	require.Equal(t, "0", values.GetValue("libhero_heap_capacity"))
	require.Contains(t, buf.String(), "# TYPE libhero_mailbox_occupied gauge")
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) prometheus.Gauge {
	g := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: name,
			Help: "Test gauge " + name,
		},
	)
	require.NoError(t, r.Register(name, g, options...))
	return g
}

func newTestServer(t *testing.T, r *metrics.Registry, options ...metrics.GathererOption) *httptest.Server {
	g, err := r.NewGatherer(options...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      logger.Get("metrics-test"),
		ErrorHandling: promhttp.PanicOnError,
	}))

	return httptest.NewServer(mux)
}

type described []string

func (d described) HasEntry(name, kind string) bool {
	for _, e := range d {
		split := strings.Split(e, " ")
		if len(split) >= 2 && split[0] == name && split[1] == kind {
			return true
		}
	}
	return false
}

type collected []string

func (c collected) GetValue(name string) string {
	for _, e := range c {
		split := strings.SplitN(e, " ", 2)
		if len(split) == 2 && split[0] == name {
			return split[1]
		}
	}
	return ""
}

func collect(t *testing.T, srv *httptest.Server) (described, collected) {
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var (
		types   []string
		values  []string
		scanner = bufio.NewScanner(resp.Body)
	)

	for scanner.Scan() {
		e := scanner.Text()
		switch {
		case strings.HasPrefix(e, "# HELP"):
		case strings.HasPrefix(e, "# TYPE "):
			types = append(types, strings.TrimPrefix(e, "# TYPE "))
		default:
			values = append(values, e)
		}
	}
	require.NoError(t, scanner.Err())

	return described(types), collected(values)
}
