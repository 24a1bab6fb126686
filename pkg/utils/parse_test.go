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

package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hero-runtime/libhero/pkg/utils"
)

func TestParseEnabled(t *testing.T) {
	type testCase struct {
		value   string
		result  bool
		invalid bool
	}
	for _, tc := range []*testCase{
		{value: "on", result: true},
		{value: "Enabled", result: true},
		{value: "1", result: true},
		{value: "off", result: false},
		{value: "", result: false},
		{value: "maybe", invalid: true},
	} {
		t.Run("parse "+tc.value, func(t *testing.T) {
			enabled, err := utils.ParseEnabled(tc.value)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, enabled)
		})
	}
}

func TestParseUint(t *testing.T) {
	v, err := utils.ParseUint("0x7800_0000", 32)
	require.NoError(t, err)
	require.Equal(t, uint64(0x78000000), v)

	v, err = utils.ParseUint("4096", 64)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), v)

	_, err = utils.ParseUint("0x1_0000_0000", 32)
	require.Error(t, err)
}

func TestAlignment(t *testing.T) {
	require.Equal(t, uint64(32), utils.AlignUp(1, 32))
	require.Equal(t, uint64(32), utils.AlignUp(32, 32))
	require.Equal(t, uint64(0x80000), utils.AlignUp(0x80000, 32))
	require.Equal(t, uint64(64), utils.AlignDown(95, 32))
	require.True(t, utils.IsPowerOf2(16))
	require.False(t, utils.IsPowerOf2(24))
	require.False(t, utils.IsPowerOf2(0))
}
