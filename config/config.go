// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/reconcile"
	"go.uber.org/zap/zapcore"
)

// Set at link time.
var (
	gitVersion = "dev"
	gitHash    = ""
)

type Version struct {
	Version string
	GitHash string
}

// Role selects which sides of the bridge are active.
type Role string

const (
	RoleSource Role = "source"
	RoleSink   Role = "sink"
	RoleBoth   Role = "both"
)

func (r Role) Receives() bool {
	return r == RoleSink || r == RoleBoth
}

func (r Role) Transmits() bool {
	return r == RoleSource || r == RoleBoth
}

func (r Role) Validate() error {
	switch r {
	case RoleSource, RoleSink, RoleBoth:
		return nil
	}
	return fmt.Errorf("unknown role %q", string(r))
}

// Duration is a time.Duration written as "20ms" in the config file.
type Duration struct {
	time.Duration
}

func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Log struct {
	Level string `toml:"level"`
	// File additionally writes JSON lines to this path.
	File string `toml:"file"`
}

type Metrics struct {
	// Address serves /metrics; empty disables the endpoint.
	Address string `toml:"address"`
}

// Poll bounds the adaptive idle interval of the orchestrator loop.
type Poll struct {
	Min Duration `toml:"min"`
	Max Duration `toml:"max"`
}

type Rx struct {
	// SettleVBlanks is how many vertical blanks must pass after training
	// before the stream is trusted.
	SettleVBlanks  int      `toml:"settle_vblanks"`
	DetectRetries  int      `toml:"detect_retries"`
	DetectInterval Duration `toml:"detect_interval"`
}

type Tx struct {
	// Capability of this transmitter; zero means the fastest fallback
	// entry.
	Capability    link.Config   `toml:"capability"`
	Fallback      []link.Config `toml:"fallback"`
	TrainTimeout  Duration      `toml:"train_timeout"`
	PollInterval  Duration      `toml:"poll_interval"`
	TrainRetries  int           `toml:"train_retries"`
	AuxRetries    int           `toml:"aux_retries"`
	AuxInterval   Duration      `toml:"aux_interval"`
	StatusRetries int           `toml:"status_retries"`
	WakeDelay     Duration      `toml:"wake_delay"`
	// HPDPoll samples the hot-plug line at this interval on boards without
	// an HPD interrupt. Zero leaves hot-plug to the platform.
	HPDPoll     Duration `toml:"hpd_poll"`
	HPDPulseMax Duration `toml:"hpd_pulse_max"`
	// HPDTrace records every sample to this file.
	HPDTrace string `toml:"hpd_trace"`
}

type Downscale struct {
	// Threshold in active pixels per second.
	Threshold uint64                `toml:"threshold"`
	Reference link.StreamAttributes `toml:"reference"`
}

type Config struct {
	Role      Role      `toml:"role"`
	Log       Log       `toml:"log"`
	Metrics   Metrics   `toml:"metrics"`
	Poll      Poll      `toml:"poll"`
	Rx        Rx        `toml:"rx"`
	Tx        Tx        `toml:"tx"`
	Downscale Downscale `toml:"downscale"`
	// Source is the mode transmitted when only the source role is active.
	Source  link.StreamAttributes `toml:"source"`
	Version Version               `toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := reconcile.DefaultPolicy()
	ef := link.Params{EnhancedFraming: true}
	return &Config{
		Role: RoleBoth,
		Log:  Log{Level: "info"},
		Metrics: Metrics{
			Address: ":9110",
		},
		Poll: Poll{Min: D(time.Millisecond), Max: D(50 * time.Millisecond)},
		Rx: Rx{
			SettleVBlanks:  2,
			DetectRetries:  5,
			DetectInterval: D(20 * time.Millisecond),
		},
		Tx: Tx{
			// Sinks commonly fail HBR3 over long cables; the list steps down
			// through every legacy tier at four lanes, then narrows.
			Fallback: []link.Config{
				{Rate: link.RateHBR3, Lanes: 4, Params: ef},
				{Rate: link.RateHBR2, Lanes: 4, Params: ef},
				{Rate: link.RateHBR, Lanes: 4, Params: ef},
				{Rate: link.RateRBR, Lanes: 4, Params: ef},
				{Rate: link.RateHBR, Lanes: 2, Params: ef},
				{Rate: link.RateRBR, Lanes: 1, Params: ef},
			},
			TrainTimeout:  D(100 * time.Millisecond),
			PollInterval:  D(time.Millisecond),
			TrainRetries:  1,
			AuxRetries:    3,
			AuxInterval:   D(time.Millisecond),
			StatusRetries: 3,
			WakeDelay:     D(2 * time.Millisecond),
			HPDPulseMax:   D(2 * time.Millisecond),
		},
		Downscale: Downscale{
			Threshold: policy.Threshold,
			Reference: policy.Reference,
		},
		Source: link.StreamAttributes{
			HActive:   1920,
			VActive:   1080,
			FrameRate: 60,
			BPC:       8,
			Encoding:  link.EncodingRGB,
			Blanking: link.Blanking{
				HFrontPorch: 88, HSync: 44, HBackPorch: 148,
				VFrontPorch: 4, VSync: 5, VBackPorch: 36,
			},
		},
		Version: Version{
			Version: gitVersion,
			GitHash: gitHash,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; found reports whether one was read.
func Load(fsys afero.Fs, path string) (cfg *Config, found bool, err error) {
	cfg = Default()
	if path == "" {
		return cfg, false, cfg.Validate()
	}
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, false, cfg.Validate()
	}
	if err != nil {
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	// Replace, don't merge, list values.
	cfg.Tx.Fallback = nil
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Tx.Fallback) == 0 {
		cfg.Tx.Fallback = Default().Tx.Fallback
	}
	if err := cfg.Validate(); err != nil {
		return nil, true, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Policy is the downscale policy described by the config.
func (c *Config) Policy() reconcile.Policy {
	return reconcile.Policy{Threshold: c.Downscale.Threshold, Reference: c.Downscale.Reference}
}

func (c *Config) Validate() error {
	if err := c.Role.Validate(); err != nil {
		return err
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Poll.Min.Duration <= 0 || c.Poll.Max.Duration < c.Poll.Min.Duration {
		return fmt.Errorf("poll interval must satisfy 0 < min <= max, got %v..%v", c.Poll.Min, c.Poll.Max)
	}
	if c.Role.Receives() {
		if c.Rx.SettleVBlanks < 0 || c.Rx.DetectRetries < 0 {
			return fmt.Errorf("rx: negative settle or retry count")
		}
	}
	if c.Role.Transmits() {
		if err := c.validateTx(); err != nil {
			return fmt.Errorf("tx: %w", err)
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("downscale: %w", err)
	}
	if c.Role == RoleSource {
		if err := c.Source.Validate(); err != nil {
			return fmt.Errorf("source mode: %w", err)
		}
	}
	return nil
}

func (c *Config) validateTx() error {
	if err := link.Fallback(c.Tx.Fallback).Validate(); err != nil {
		return err
	}
	if !c.Tx.Capability.IsZero() {
		if err := c.Tx.Capability.Validate(); err != nil {
			return fmt.Errorf("capability: %w", err)
		}
	}
	if c.Tx.TrainTimeout.Duration <= 0 || c.Tx.PollInterval.Duration <= 0 {
		return fmt.Errorf("train timeout and poll interval must be positive")
	}
	if c.Tx.TrainRetries < 0 || c.Tx.AuxRetries < 0 || c.Tx.StatusRetries < 0 {
		return fmt.Errorf("negative retry count")
	}
	if c.Tx.HPDPoll.Duration < 0 {
		return fmt.Errorf("negative hpd_poll")
	}
	if c.Tx.HPDPoll.Duration > 0 && c.Tx.HPDPulseMax.Duration < c.Tx.HPDPoll.Duration {
		return fmt.Errorf("hpd_pulse_max %v is shorter than hpd_poll %v", c.Tx.HPDPulseMax.Duration, c.Tx.HPDPoll.Duration)
	}
	return nil
}
