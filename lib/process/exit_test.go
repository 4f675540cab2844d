// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type usageError struct{}

func (usageError) Error() string { return "bad flag" }
func (usageError) ExitCode() int { return 2 }

func TestReport(t *testing.T) {
	var buffer bytes.Buffer
	if code := Report(&buffer, errors.New("store unavailable")); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if buffer.String() != "error: store unavailable\n" {
		t.Errorf("output = %q", buffer.String())
	}

	buffer.Reset()
	if code := Report(&buffer, fmt.Errorf("parsing flags: %w", usageError{})); code != 2 {
		t.Errorf("exit code = %d, want 2 from wrapped ExitCode", code)
	}
}
