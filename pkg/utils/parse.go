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

package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseEnabled parses a boolean-ish state string (on/off, true/false, etc.).
func ParseEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "enable", "enabled", "true", "yes", "y", "1":
		return true, nil
	case "off", "disable", "disabled", "false", "no", "n", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled state %q", value)
}

// ParseUint parses an unsigned integer given in decimal, hex (0x), octal
// (0o) or binary (0b) notation.
func ParseUint(value string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(value), "_", ""), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid unsigned value %q: %w", value, err)
	}
	return v, nil
}

// AlignUp rounds v up to the next multiple of align, which must be a power of 2.
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// AlignDown rounds v down to a multiple of align, which must be a power of 2.
func AlignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}

// IsPowerOf2 returns true if v is a non-zero power of 2.
func IsPowerOf2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
