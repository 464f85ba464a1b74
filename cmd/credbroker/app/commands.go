// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the credbroker command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/credbroker/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "credbroker",
	DisableAutoGenTag: true,
	Short:             "credbroker brokers platform credentials to third-party OAuth2 clients",
	Long: `credbroker is the OAuth2 authorization server that lets pre-registered
third-party web applications obtain scoped, short-lived platform credentials
on behalf of an authenticated user. It serves the authorize, consent
decision, token and credentials endpoints and mints the final credentials
through the platform credential service.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the credbroker CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := bindFlags(rootCmd.PersistentFlags(), "debug"); err != nil {
		logger.Errorf("Error binding flags: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
