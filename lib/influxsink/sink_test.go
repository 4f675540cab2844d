// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package influxsink

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/solarwatch/lib/energystore"
)

type writeRecorder struct {
	mu     sync.Mutex
	status int
	paths  []string
	orgs   []string
	bucket []string
	bodies []string
}

func (r *writeRecorder) ServeHTTP(w http.ResponseWriter, request *http.Request) {
	body, _ := io.ReadAll(request.Body)

	r.mu.Lock()
	r.paths = append(r.paths, request.URL.Path)
	r.orgs = append(r.orgs, request.URL.Query().Get("org"))
	r.bucket = append(r.bucket, request.URL.Query().Get("bucket"))
	r.bodies = append(r.bodies, string(body))
	status := r.status
	r.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, `{"code":"invalid","message":"bucket not found"}`)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newTestSink(t *testing.T, recorder *writeRecorder) *Sink {
	t.Helper()
	server := httptest.NewServer(recorder)
	t.Cleanup(server.Close)

	sink, err := New(Config{
		URL:    server.URL,
		Token:  "test-token",
		Org:    "home",
		Bucket: "solar",
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sink.Close)
	return sink
}

func TestWriteReading(t *testing.T) {
	recorder := &writeRecorder{}
	sink := newTestSink(t, recorder)

	reading := energystore.Reading{
		ID:           7,
		Timestamp:    time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:     "east",
		CurrentWatts: 1500,
		DailyYieldWh: 4200,
	}
	if err := sink.WriteReading(context.Background(), reading); err != nil {
		t.Fatalf("WriteReading: %v", err)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.paths) != 1 || recorder.paths[0] != "/api/v2/write" {
		t.Fatalf("requests = %v, want one /api/v2/write", recorder.paths)
	}
	if recorder.orgs[0] != "home" || recorder.bucket[0] != "solar" {
		t.Errorf("org/bucket = %s/%s, want home/solar", recorder.orgs[0], recorder.bucket[0])
	}

	line := recorder.bodies[0]
	for _, want := range []string{
		"inverter_reading,device=east ",
		"watts=1500",
		"daily_yield_wh=4200",
		"1780315200000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
}

func TestWriteReadingServerError(t *testing.T) {
	recorder := &writeRecorder{status: http.StatusNotFound}
	sink := newTestSink(t, recorder)

	err := sink.WriteReading(context.Background(), energystore.Reading{
		Timestamp: time.Now(),
		DeviceID:  "west",
	})
	if err == nil {
		t.Fatal("expected error from failing server")
	}
	if !strings.Contains(err.Error(), "west") {
		t.Errorf("error = %v, want device named", err)
	}
}

func TestNewRequiresTarget(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:8086", Org: "home"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
