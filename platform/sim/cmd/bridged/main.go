// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bridged runs the bridge on the simulated board.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/u-root/u-bridge/config"
	"github.com/u-root/u-bridge/pkg/bridge"
	"github.com/u-root/u-bridge/pkg/logger"
	"github.com/u-root/u-bridge/pkg/telemetry"
	"github.com/u-root/u-bridge/platform/sim/pkg/platform"
)

var log = logger.LogContainer.GetSimpleLogger()

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var lockPath string
	var demo time.Duration

	cmd := &cobra.Command{
		Use:           "bridged",
		Short:         "Run the pass-through bridge on the simulated board",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, found, err := config.Load(afero.NewOsFs(), configPath)
			if err != nil {
				return err
			}
			if err := logger.LogContainer.SetLevel(conf.Log.Level); err != nil {
				return err
			}
			if conf.Log.File != "" {
				if err := logger.LogContainer.SetLogFile(conf.Log.File); err != nil {
					return err
				}
			}
			if !found {
				log.Infof("No config at %s, using defaults", configPath)
			}
			// Two bridges must never drive the same links.
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another bridged holds %s", lockPath)
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					log.Warnf("Releasing %s: %v", lockPath, err)
				}
			}()
			return run(cmd.Context(), conf, demo)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/u-bridge.toml", "Configuration file path")
	cmd.Flags().StringVar(&lockPath, "lock", "/run/u-bridge.lock", "Lock file held while running")
	cmd.Flags().DurationVar(&demo, "demo", 0, "Play a scripted plug and stream sequence with this step")
	return cmd
}

func run(ctx context.Context, conf *config.Config, demo time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := platform.Platform(clock.New())
	b, err := bridge.New(p, conf, nil)
	if err != nil {
		return err
	}
	if demo > 0 {
		go p.Demo(ctx, demo)
	}

	// SIGUSR1 dumps the link status.
	usr := make(chan os.Signal, 1)
	signal.Notify(usr, syscall.SIGUSR1)
	defer signal.Stop(usr)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr:
				fmt.Println(b.Session())
				telemetry.Dump(os.Stdout, b.Status())
			}
		}
	}()

	err = b.Serve(ctx)
	telemetry.Dump(os.Stdout, b.Status())
	return err
}
