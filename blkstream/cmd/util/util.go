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

// Package util groups helpers shared by blkstream subcommands.
package util

import (
	"fmt"
	"os"

	"github.com/pktstream/pktstream/pkg/log"
)

// ErrorLogger is where error messages should be written to. They are also
// written to the regular log.
var ErrorLogger = os.Stderr

// Fatalf logs the same message to the error logger and to the regular log,
// then exits with status 128.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(ErrorLogger, "blkstream: "+msg)
	log.Warningf("FATAL ERROR: %s", msg)
	os.Exit(128)
}
