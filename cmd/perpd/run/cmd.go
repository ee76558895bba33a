// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"os"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:          "perpd",
		Short:        "Runs a perpetual futures exchange node",
		RunE:         runFunc,
		SilenceUsage: true,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	logger := log.NewLogger("perpd", *log.NewWrappedCore(config.LogLevel, os.Stdout, log.Plain.ConsoleEncoder()))
	return Run(c.Context(), config, logger)
}
