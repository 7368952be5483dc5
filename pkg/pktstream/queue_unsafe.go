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

package pktstream

import (
	"sync/atomic"
	"unsafe"
)

func (q *Queue[T, PT]) index(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&q.mem[off:][:4][0]))
}

func (q *Queue[T, PT]) loadHead() uint32 {
	return atomic.LoadUint32(q.index(headOffset))
}

func (q *Queue[T, PT]) storeHead(v uint32) {
	atomic.StoreUint32(q.index(headOffset), v)
}

func (q *Queue[T, PT]) loadTail() uint32 {
	return atomic.LoadUint32(q.index(tailOffset))
}

func (q *Queue[T, PT]) storeTail(v uint32) {
	atomic.StoreUint32(q.index(tailOffset), v)
}
