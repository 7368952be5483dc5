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

package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pktstream/pktstream/pkg/log"
)

func TestNewEmitter(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, tc := range []struct {
		format string
		want   string
	}{
		{format: "text", want: "] served 3 requests\n"},
		{format: "json", want: `"msg":"served 3 requests"`},
		{format: "logrus", want: `msg="served 3 requests"`},
	} {
		var buf bytes.Buffer
		e := newEmitter(tc.format, &buf)
		e.Emit(0, log.Info, ts, "served %d requests", 3)
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("%s emitter wrote %q, want it to contain %q", tc.format, buf.String(), tc.want)
		}
	}
}
