// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/u-root/u-bridge/pkg/link"
)

const namespace = "ubridge"

var (
	LinkState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "state",
		Help:      "Current link state per side (0 idle, 1 training, 2 trained, 3 video-valid, 4 no-video, 5 unplugged)",
	}, []string{"side"})
	Unplugs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "link",
		Name:      "unplug_total",
		Help:      "Cable unplug events observed per side",
	}, []string{"side"})
	TrainingAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tx",
		Name:      "training_attempts_total",
		Help:      "Transmit link training attempts by rate, lane count and outcome",
	}, []string{"rate", "lanes", "result"})
	NegotiationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "negotiation_failures_total",
		Help:      "Negotiations that could not produce a streaming configuration",
	})
	SessionSequence = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "session_sequence",
		Help:      "Number of successful (re)negotiations since start",
	})
	BandwidthClipped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "bandwidth_clipped",
		Help:      "Whether the output is downscaled to the reference mode",
	})
	Streaming = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "streaming",
		Help:      "Whether the buffered path is active",
	})
)

func init() {
	prometheus.MustRegister(LinkState)
	prometheus.MustRegister(Unplugs)
	prometheus.MustRegister(TrainingAttempts)
	prometheus.MustRegister(NegotiationFailures)
	prometheus.MustRegister(SessionSequence)
	prometheus.MustRegister(BandwidthClipped)
	prometheus.MustRegister(Streaming)
}

// ObserveTraining counts one training attempt.
func ObserveTraining(c link.Config, ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	TrainingAttempts.WithLabelValues(c.Rate.String(), strconv.Itoa(c.Lanes), result).Inc()
}

func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// StartMetrics adds the metrics handler to a http.ServeMux
func StartMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen: %v", err)
	}
	mux := http.NewServeMux()
	StartMetrics(mux)
	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
