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

package log

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// jsonRecord is one line written by JSONEmitter.
type jsonRecord struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Caller string    `json:"caller,omitempty"`
	Msg    string    `json:"msg"`
}

// MarshalJSON implements json.Marshaler.MarshalJSON. Levels are written as
// lower-case names.
func (l Level) MarshalJSON() ([]byte, error) {
	if l > Debug {
		return nil, fmt.Errorf("cannot marshal %v", l)
	}
	return strconv.AppendQuote(nil, strings.ToLower(l.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts level
// names in any case as well as their numeric values.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		for lv := Warning; lv <= Debug; lv++ {
			if strings.EqualFold(unq, lv.String()) {
				*l = lv
				return nil
			}
		}
		return fmt.Errorf("unknown level %q", unq)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || Level(n) > Debug {
		return fmt.Errorf("unknown level %s", s)
	}
	*l = Level(n)
	return nil
}

// JSONEmitter writes one JSON object per statement.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	rec := jsonRecord{
		Time:  timestamp,
		Level: level,
		Msg:   fmt.Sprintf(format, v...),
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		rec.Caller = file[strings.LastIndexByte(file, '/')+1:] + ":" + strconv.Itoa(line)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		// Only an invalid level can fail; keep the message anyway.
		rec.Level = Warning
		b, _ = json.Marshal(rec)
	}
	e.Writer.Write(append(b, '\n'))
}
