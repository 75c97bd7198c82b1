// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// bridgecfg prints the effective bridge configuration.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/u-root/u-bridge/config"
	"github.com/u-root/u-bridge/pkg/link"
)

func main() {
	if err := newRootCommand(afero.NewOsFs()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	var configPath string
	load := func() (*config.Config, error) {
		conf, _, err := config.Load(fs, configPath)
		return conf, err
	}

	root := &cobra.Command{
		Use:           "bridgecfg",
		Short:         "Inspect the bridge configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/u-bridge.toml", "Configuration file path")

	root.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := load()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).SetIndentTables(true).Encode(conf)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "fallback",
		Short: "List the transmit fallback configurations in training order",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := load()
			if err != nil {
				return err
			}
			return fallbackTable(cmd.OutOrStdout(), conf)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := load(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", configPath)
			return nil
		},
	})
	return root
}

// fallbackTable lists the fallback entries fastest first, marking which can
// carry the configured source mode and the downscale reference mode.
func fallbackTable(w io.Writer, conf *config.Config) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Rate", "Lanes", "Payload Mbps", "Source mode", "Reference mode"})
	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	for i, c := range link.Fallback(conf.Tx.Fallback).Descending() {
		tw.AppendRow(table.Row{
			i + 1,
			c.Rate,
			c.Lanes,
			strconv.FormatUint(c.PayloadKbps()/1000, 10),
			yes(c.Carries(conf.Source)),
			yes(c.Carries(conf.Downscale.Reference)),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}
