// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	inputJSON  string

	rootCmd = &cobra.Command{
		Use:   "overture",
		Short: "A cli to run and manage Overture ensembles",
		Long: `Overture orchestrates multi-step ensembles of AI calls, HTTP calls,
and custom functions, with quality-gated retries and suspend/resume.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [ensemble]",
		Short: "Execute an ensemble to completion or suspension",
		Args:  cobra.ExactArgs(1),
		Run:   runEnsemble, // Defined in cmd_run.go
	}

	resumeCmd = &cobra.Command{
		Use:   "resume [token]",
		Short: "Resume a suspended execution with its resume token",
		Args:  cobra.ExactArgs(1),
		Run:   runResume, // Defined in cmd_run.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate [file...]",
		Short: "Parse and validate ensemble definition files",
		Args:  cobra.MinimumNArgs(1),
		Run:   runValidate, // Defined in cmd_run.go
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the loaded ensemble definitions",
		Run:   runList, // Defined in cmd_run.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the conductor HTTP API",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "overture.yaml", "Path to the configuration file")
	runCmd.Flags().StringVar(&inputJSON, "input", "{}", "Execution input as a JSON object")
	resumeCmd.Flags().StringVar(&inputJSON, "input", "{}", "Resume input as a JSON object")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}
