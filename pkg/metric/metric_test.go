// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pt "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/u-root/u-bridge/pkg/link"
)

func TestObserveTraining(t *testing.T) {
	c := link.Config{Rate: link.RateHBR2, Lanes: 2}
	before := pt.ToFloat64(TrainingAttempts.WithLabelValues("HBR2", "2", "ok"))
	ObserveTraining(c, true)
	if v := pt.ToFloat64(TrainingAttempts.WithLabelValues("HBR2", "2", "ok")); v != before+1 {
		t.Errorf("Expected training counter %v, was %v", before+1, v)
	}
}

func TestStartMetrics(t *testing.T) {
	SessionSequence.Set(7)
	mux := http.NewServeMux()
	StartMetrics(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ubridge_bridge_session_sequence 7") {
		t.Errorf("Session sequence gauge missing from /metrics output")
	}
}
