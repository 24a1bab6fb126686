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
	"encoding/binary"
	"fmt"
)

// Control words exchanged over the host to device and device to host rings.
const (
	DeviceReady  uint32 = 0x01
	DeviceStart  uint32 = 0x02
	DeviceBusy   uint32 = 0x03
	DeviceDone   uint32 = 0x04
	DevicePrint  uint32 = 0x05
	DeviceStop   uint32 = 0x0F
	DeviceLogLvl uint32 = 0x10
	HostReady    uint32 = 0x1000
	HostDone     uint32 = 0x3000
)

// MaxMessageSize is the largest variable length message accepted.
const MaxMessageSize = 64 * 1024

var controlNames = map[uint32]string{
	DeviceReady:  "DEVICE_READY",
	DeviceStart:  "DEVICE_START",
	DeviceBusy:   "DEVICE_BUSY",
	DeviceDone:   "DEVICE_DONE",
	DevicePrint:  "DEVICE_PRINT",
	DeviceStop:   "DEVICE_STOP",
	DeviceLogLvl: "DEVICE_LOGLVL",
	HostReady:    "HOST_READY",
	HostDone:     "HOST_DONE",
}

// ControlName returns the name of a control word, or its value in hex.
func ControlName(w uint32) string {
	if name, ok := controlNames[w]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", w)
}

func packWords(msg []byte) []uint32 {
	words := make([]uint32, (len(msg)+WordSize-1)/WordSize)
	var buf [WordSize]byte
	for i := range words {
		buf = [WordSize]byte{}
		copy(buf[:], msg[i*WordSize:])
		words[i] = binary.LittleEndian.Uint32(buf[:])
	}
	return words
}

func unpackWords(words []uint32, n int) []byte {
	buf := make([]byte, len(words)*WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*WordSize:], w)
	}
	return buf[:n]
}
