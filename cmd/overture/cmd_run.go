// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/OvertureAI/OvertureFOSS/pkg/logging"
	"github.com/OvertureAI/OvertureFOSS/services/conductor"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/member"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/suspend"
	"github.com/spf13/cobra"
)

// newLogger builds the process logger from config.
func newLogger(jsonOutput bool) *logging.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		JSON:    jsonOutput,
		LogDir:  config.LogDir,
		Service: "conductor",
	})
	if err != nil {
		log.Fatalf("Error initializing logging: %v", err)
	}
	return logger
}

// newRegistry registers the builtin members.
func newRegistry(logger *logging.Logger) *member.Registry {
	reg := member.NewRegistry()
	chat, err := member.NewChat("llm", config.Chat.Model, config.Chat.BaseURL)
	if err != nil {
		logger.Warn("llm member unavailable", "error", err)
	} else if err := reg.RegisterInstance(chat); err != nil {
		log.Fatalf("Error registering llm member: %v", err)
	}
	return reg
}

// newEvaluator builds the scoring judge, nil when disabled.
func newEvaluator(logger *logging.Logger) scoring.Evaluator {
	if config.Judge.Disabled {
		return nil
	}
	eval, err := scoring.NewChatEvaluator(config.Judge.BaseURL, config.Judge.Model)
	if err != nil {
		logger.Warn("scoring evaluator unavailable, scored steps will fail", "error", err)
		return nil
	}
	return eval
}

// newDurableStore opens the suspension store per config.
func newDurableStore(logger *logging.Logger) suspend.DurableStore {
	if config.DataDir == "" {
		logger.Warn("no dataDir configured, suspensions will not survive restarts")
		return suspend.NewMemoryStore()
	}
	store, err := suspend.OpenBadger(suspend.DefaultBadgerConfig(config.DataDir))
	if err != nil {
		log.Fatalf("Error opening suspension store: %v", err)
	}
	return store
}

// buildService wires the full engine for one command invocation.
func buildService(logger *logging.Logger) (*conductor.Service, suspend.DurableStore) {
	defs := conductor.NewDefinitionStore(logger.Slog())
	if err := defs.LoadDir(config.DefinitionsDir); err != nil {
		logger.Warn("definitions directory unavailable", "dir", config.DefinitionsDir, "error", err)
	}
	durable := newDurableStore(logger)
	svc := conductor.NewService(
		conductor.Config{SuspendTTL: config.SuspendTTL.Std()},
		newRegistry(logger),
		newEvaluator(logger),
		durable,
		defs,
		logger.Slog(),
	)
	return svc, durable
}

// parseInput decodes the --input JSON object.
func parseInput() map[string]any {
	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		log.Fatalf("Error parsing --input: %v", err)
	}
	return input
}

// printResult renders an execution result to stdout as JSON.
func printResult(res *conductor.ExecutionResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("Error encoding result: %v", err)
	}
}

func runEnsemble(cmd *cobra.Command, args []string) {
	logger := newLogger(false)
	defer logger.Close()
	svc, durable := buildService(logger)
	defer durable.Close()

	res, err := svc.ExecuteByName(context.Background(), args[0], parseInput())
	if err != nil {
		if res != nil {
			printResult(res)
		}
		log.Fatalf("Execution failed: %v", err)
	}
	printResult(res)
}

func runResume(cmd *cobra.Command, args []string) {
	logger := newLogger(false)
	defer logger.Close()
	svc, durable := buildService(logger)
	defer durable.Close()

	res, err := svc.ResumeExecution(context.Background(), args[0], parseInput())
	if err != nil {
		if res != nil {
			printResult(res)
		}
		log.Fatalf("Resume failed: %v", err)
	}
	printResult(res)
}

func runValidate(cmd *cobra.Command, args []string) {
	failed := false
	for _, path := range args {
		def, err := ensemble.LoadFile(path)
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: ok (%s, %d steps)\n", path, def.Ref(), len(def.Steps))
	}
	if failed {
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) {
	logger := newLogger(false)
	defer logger.Close()
	defs := conductor.NewDefinitionStore(logger.Slog())
	if err := defs.LoadDir(config.DefinitionsDir); err != nil {
		log.Fatalf("Error loading definitions: %v", err)
	}
	for _, ref := range defs.Refs() {
		fmt.Println(ref)
	}
}
