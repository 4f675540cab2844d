// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inverter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    float64
		wantErr string
	}{
		{"integer", `{"dev":{"k":{"1":[{"val":450}]}}}`, 450, ""},
		{"fraction", `{"dev":{"k":{"1":[{"val":12.75}]}}}`, 12.75, ""},
		{"null val", `{"dev":{"k":{"1":[{"val":null}]}}}`, 0, ""},
		{"first entry wins", `{"dev":{"k":{"1":[{"val":1},{"val":2}]}}}`, 1, ""},
		{"missing result", ``, 0, "result missing"},
		{"null result", `null`, 0, "result missing"},
		{"result not object", `[1,2]`, 0, "result is not an object"},
		{"missing device", `{"other":{}}`, 0, `result["dev"] missing`},
		{"missing key", `{"dev":{}}`, 0, `result["dev"]["k"] missing`},
		{"missing instance", `{"dev":{"k":{"2":[]}}}`, 0, `["1"] missing`},
		{"instance not array", `{"dev":{"k":{"1":{"val":3}}}}`, 0, "not an array"},
		{"empty array", `{"dev":{"k":{"1":[]}}}`, 0, "is empty"},
		{"missing val", `{"dev":{"k":{"1":[{"low":0}]}}}`, 0, "val missing"},
		{"string val", `{"dev":{"k":{"1":[{"val":"n/a"}]}}}`, 0, "not a number"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := decodeValue(json.RawMessage(test.result), "dev", "k")
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("decodeValue: %v", err)
				}
				if got != test.want {
					t.Errorf("decodeValue = %v, want %v", got, test.want)
				}
				return
			}
			if !errors.Is(err, ErrResponseParse) {
				t.Fatalf("error = %v, want ErrResponseParse", err)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, test.wantErr)
			}
		})
	}
}
