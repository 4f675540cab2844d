// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inverter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the top level of every device response. Err is non-zero
// when the device rejected the request (401: stale session).
type envelope struct {
	Err    int             `json:"err"`
	Result json.RawMessage `json:"result"`
}

type loginRequest struct {
	Right string `json:"right"`
	Pass  string `json:"pass"`
}

type loginResult struct {
	SID string `json:"sid"`
}

type getValuesRequest struct {
	DestDev []string `json:"destDev"`
	Keys    []string `json:"keys"`
}

// instanceKey is the channel index the device nests every value under.
const instanceKey = "1"

// Values is one getValues result for a device.
type Values struct {
	dataID string
	result json.RawMessage
}

// Float decodes the value of key. See decodeValue.
func (v Values) Float(key string) (float64, error) {
	return decodeValue(v.result, v.dataID, key)
}

// decodeValue walks result[dataID][key]["1"][0].val one level at a
// time and reports the first level that is missing or malformed. A
// null val (the device reports null while idle at night) decodes to 0.
// A missing val is an error.
func decodeValue(result json.RawMessage, dataID, key string) (float64, error) {
	devices, err := decodeObject(result, "result")
	if err != nil {
		return 0, err
	}
	keys, err := decodeObject(devices[dataID], fmt.Sprintf("result[%q]", dataID))
	if err != nil {
		return 0, err
	}
	instances, err := decodeObject(keys[key], fmt.Sprintf("result[%q][%q]", dataID, key))
	if err != nil {
		return 0, err
	}

	level := fmt.Sprintf("result[%q][%q][%q]", dataID, key, instanceKey)
	rawEntries, ok := instances[instanceKey]
	if !ok {
		return 0, fmt.Errorf("%w: %s missing", ErrResponseParse, level)
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(rawEntries, &entries); err != nil {
		return 0, fmt.Errorf("%w: %s is not an array of objects", ErrResponseParse, level)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrResponseParse, level)
	}

	rawValue, ok := entries[0]["val"]
	if !ok {
		return 0, fmt.Errorf("%w: %s[0].val missing", ErrResponseParse, level)
	}
	if bytes.Equal(bytes.TrimSpace(rawValue), []byte("null")) {
		return 0, nil
	}
	var value float64
	if err := json.Unmarshal(rawValue, &value); err != nil {
		return 0, fmt.Errorf("%w: %s[0].val is not a number: %s", ErrResponseParse, level, rawValue)
	}
	return value, nil
}

// decodeObject decodes raw as a JSON object. Absent and null values
// are reported as missing.
func decodeObject(raw json.RawMessage, level string) (map[string]json.RawMessage, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: %s missing", ErrResponseParse, level)
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrResponseParse, level)
	}
	return object, nil
}
