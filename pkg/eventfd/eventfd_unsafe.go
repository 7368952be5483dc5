// Copyright 2026 The pktstream Authors.
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

package eventfd

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// addCounter adds val to the counter of the eventfd fd without entering the
// scheduler. An eventfd transfers exactly eight bytes or fails.
func addCounter(fd int, val uint64) error {
	n, _, errno := unix.RawSyscall(unix.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&val)), sizeofUint64)
	if errno != 0 {
		return errno
	}
	if n != sizeofUint64 {
		panic(fmt.Sprintf("bad write to eventfd: got %d bytes, wanted %d", n, sizeofUint64))
	}
	return nil
}

// takeCounter reads and resets the counter of the non-blocking eventfd fd.
func takeCounter(fd int) (uint64, error) {
	var val uint64
	n, _, errno := unix.RawSyscall(unix.SYS_READ, uintptr(fd), uintptr(unsafe.Pointer(&val)), sizeofUint64)
	if errno != 0 {
		return 0, errno
	}
	if n != sizeofUint64 {
		panic(fmt.Sprintf("short read from eventfd: got %d bytes, wanted %d", n, sizeofUint64))
	}
	return val, nil
}
