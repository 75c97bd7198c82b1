// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tx

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/metric"
)

// Train trains the link at cfg and returns the configuration actually
// trained, which is lower than cfg if the PHY could not run cfg's rate.
// Cancelling ctx abandons the training wait.
func (c *Controller) Train(ctx context.Context, cfg link.Config, s link.StreamAttributes) (link.Config, error) {
	if ctx.Err() != nil || c.state.State() == link.Unplugged {
		return cfg, ErrAborted
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if !cfg.Within(c.limit) {
		return cfg, &TrainError{cfg, fmt.Errorf("%w: limit %v", ErrExceedsCapability, c.limit)}
	}
	if !s.IsZero() && !cfg.Carries(s) {
		return cfg, &TrainError{cfg, fmt.Errorf("%w: cannot carry %v", ErrExceedsCapability, s)}
	}
	c.to(link.Training)
	c.stream = link.StreamAttributes{}

	cfg, err := c.configurePhy(cfg, s)
	if err == nil {
		err = c.train(ctx, cfg)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = ErrAborted
		}
		c.config = link.Config{}
		c.to(link.Idle)
		if !errors.Is(err, ErrAborted) {
			if werr := c.write(DPCDTrainingPattern, trainingPatternOff); werr != nil {
				log.Warnf("Clearing training pattern: %v", werr)
			}
			metric.ObserveTraining(cfg, false)
			log.Warnf("Transmit training at %v failed: %v", cfg, err)
		}
		return cfg, &TrainError{cfg, err}
	}
	c.config = cfg
	c.lastGood = cfg
	c.to(link.Trained)
	metric.ObserveTraining(cfg, true)
	log.Infof("Transmit link trained at %v", cfg)
	return cfg, nil
}

// configurePhy configures the transmit PHY, stepping down one fallback tier
// if the PHY does not support cfg.
func (c *Controller) configurePhy(cfg link.Config, s link.StreamAttributes) (link.Config, error) {
	err := c.phy.ConfigurePhy(link.Transmit, cfg.Rate, cfg.Lanes)
	if err == nil || !errors.Is(err, ErrUnsupported) {
		return cfg, err
	}
	lower, ok := c.opts.Fallback.Below(cfg, c.limit)
	if !ok || (!s.IsZero() && !lower.Carries(s)) {
		return cfg, err
	}
	log.Infof("PHY cannot run %v, trying %v", cfg, lower)
	lower.Params = cfg.Params
	return lower, c.phy.ConfigurePhy(link.Transmit, lower.Rate, lower.Lanes)
}

func (c *Controller) train(ctx context.Context, cfg link.Config) error {
	coding := byte(codingANSI8b10b)
	if cfg.Rate.Extended() {
		coding = coding128b132b
	}
	lanes := byte(cfg.Lanes)
	if cfg.Params.EnhancedFraming && c.caps.Max.Params.EnhancedFraming {
		lanes |= enhancedFramingEnBit
	}
	var spread byte
	if cfg.Params.SpreadSpectrum && c.caps.Max.Params.SpreadSpectrum {
		spread = downspreadAmp
	}
	if err := c.write(DPCDChannelCoding, coding); err != nil {
		return err
	}
	if err := c.write(DPCDLinkBWSet, byte(cfg.Rate), lanes); err != nil {
		return err
	}
	if err := c.write(DPCDDownspreadCtrl, spread); err != nil {
		return err
	}
	if err := c.hw.StartTraining(cfg); err != nil {
		return fmt.Errorf("starting training: %w", err)
	}
	var polls int
	if c.opts.PollInterval > 0 {
		polls = int(c.opts.TrainTimeout / c.opts.PollInterval)
	}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := c.hw.TrainingDone()
		if err != nil {
			return fmt.Errorf("polling training: %w", err)
		}
		if done {
			break
		}
		if i >= polls {
			return ErrTrainingTimeout
		}
		c.clk.Sleep(c.opts.PollInterval)
	}
	if err := c.write(DPCDTrainingPattern, trainingPatternOff); err != nil {
		return err
	}
	return c.checkLanes(ctx, cfg.Lanes)
}

// CheckLinkStatus reads the lane status of the trained link, waiting a
// bounded time for status bits that are still settling.
func (c *Controller) CheckLinkStatus(ctx context.Context) error {
	if !c.state.State().LinkUp() {
		return ErrNotTrained
	}
	return c.checkLanes(ctx, c.config.Lanes)
}

func (c *Controller) checkLanes(ctx context.Context, lanes int) error {
	b := backoff.WithMaxRetries(&backoff.ConstantBackOff{Interval: c.opts.PollInterval}, uint64(c.opts.StatusRetries))
	b.Reset()
	for {
		st, err := c.read(DPCDLaneStatus01, laneStatusSize)
		if err != nil {
			return err
		}
		lane, bits, aligned := laneStatus(st, lanes)
		switch {
		case lane < 0 && aligned:
			return nil
		case lane >= 0:
			err = fmt.Errorf("%w: lane %d status %#x", ErrLinkUnhealthy, lane, bits)
		default:
			err = fmt.Errorf("%w: lanes not aligned", ErrLinkUnhealthy)
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.clk.Sleep(d)
	}
}

type tier struct {
	rate  link.Rate
	lanes int
}

func tierOf(c link.Config) tier {
	return tier{c.Rate, c.Lanes}
}

// Candidates lists the configurations TrainWithFallback tries for s:
// preferred first, then every fallback entry within the negotiated limit
// that can carry s, by descending bandwidth.
func (c *Controller) Candidates(preferred link.Config, s link.StreamAttributes) link.Fallback {
	var out link.Fallback
	if !preferred.IsZero() {
		out = append(out, preferred)
	}
	for _, e := range c.opts.Fallback.Within(c.limit).Descending() {
		if e.Same(preferred) || (!s.IsZero() && !e.Carries(s)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// TrainWithFallback trains at preferred and falls back through the
// candidate list until one succeeds. Every configuration is tried at most
// once per call, retries aside, so the search always terminates.
func (c *Controller) TrainWithFallback(ctx context.Context, preferred link.Config, s link.StreamAttributes) (link.Config, error) {
	visited := make(map[tier]bool)
	var last error
	for _, cand := range c.Candidates(preferred, s) {
		if visited[tierOf(cand)] {
			continue
		}
		visited[tierOf(cand)] = true
		for attempt := 0; attempt <= c.opts.TrainRetries; attempt++ {
			got, err := c.Train(ctx, cand, s)
			visited[tierOf(got)] = true
			if err == nil {
				return got, nil
			}
			if errors.Is(err, ErrAborted) {
				return link.Config{}, err
			}
			last = err
			if errors.Is(err, ErrExceedsCapability) || errors.Is(err, ErrUnsupported) {
				break
			}
		}
	}
	if last == nil {
		return link.Config{}, fmt.Errorf("%w: nothing within %v carries %v", ErrNoUsableConfig, c.limit, s)
	}
	return link.Config{}, fmt.Errorf("%w: %w", ErrNoUsableConfig, last)
}
