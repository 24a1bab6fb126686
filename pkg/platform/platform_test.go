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

package platform_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/platform"
	"github.com/hero-runtime/libhero/pkg/region"
)

func TestGet(t *testing.T) {
	type testCase struct {
		name   string
		want   *platform.Platform
		failed bool
	}

	for _, tc := range []*testCase{
		{name: "carfield", want: platform.Carfield},
		{name: "Occamy", want: platform.Occamy},
		{name: "hero", failed: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := platform.Get(tc.name)
			if tc.failed {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Same(t, tc.want, p)
		})
	}

	require.Equal(t, []string{"carfield", "occamy"}, platform.Names())
}

func TestCarfieldIoctls(t *testing.T) {
	require.Equal(t, uintptr(0xc0084301), platform.Carfield.Ioctls.DMAAlloc)
	require.Equal(t, uintptr(0xc0084302), platform.Carfield.Ioctls.MemInfos)
	require.Equal(t, uintptr(0xc0084303), platform.Carfield.Ioctls.IOMMUMap)
	require.False(t, platform.Occamy.Ioctls.HasIOMMU)
	require.Equal(t, uintptr(1), platform.Occamy.Ioctls.MemInfos)
}

func TestRegionNames(t *testing.T) {
	p := platform.Carfield

	id, ok := p.RegionID("spatz_cluster")
	require.True(t, ok)
	require.Equal(t, platform.CarfieldSpatzCluster, id)
	require.Equal(t, "spatz_cluster", p.RegionName(id))

	_, ok = p.RegionID("snitch_cluster")
	require.False(t, ok)
	require.Equal(t, "region#42", p.RegionName(42))
}

func TestSimulate(t *testing.T) {
	dir := platform.Carfield.Simulate(platform.CarfieldSafetyIsland)
	defer dir.Close()

	info, err := dir.Lookup(platform.CarfieldL2Intl0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7800_0000), info.Phys)
	require.Equal(t, uint64(0x100000), info.Size)

	_, err = dir.Lookup(platform.CarfieldSafetyIsland)
	require.ErrorIs(t, err, region.ErrHardwareNotPresent)
	require.ErrorIs(t, err, region.ErrRegionNotFound)

	_, err = dir.Lookup(7)
	require.ErrorIs(t, err, region.ErrRegionNotFound)
	require.NotErrorIs(t, err, region.ErrHardwareNotPresent)
}
