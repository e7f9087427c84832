// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Packages whose integration tests need Docker for Postgres or Redis.
var integrationPackages = []string{
	"./internal/persistence/postgres",
	"./internal/repository",
	"./internal/worker",
	"./internal/lock",
}

type validateStep struct {
	name string
	argv []string
	skip string
}

func validateSteps(runIntegration bool) []validateStep {
	integration := validateStep{
		name: "go test integration",
		argv: append([]string{"go", "test", "-count=1", "-tags=integration"}, integrationPackages...),
	}
	if !runIntegration {
		integration.skip = "RUN_INTEGRATION is not set"
	}

	return []validateStep{
		{name: "go vet", argv: []string{"go", "vet", "./..."}},
		{name: "go test unit", argv: []string{"go", "test", "./..."}},
		integration,
	}
}

func runValidate(ctx context.Context, logger *slog.Logger) error {
	started := time.Now()

	if err := runGofmtCheck(ctx, logger); err != nil {
		return err
	}

	for _, step := range validateSteps(strings.TrimSpace(os.Getenv("RUN_INTEGRATION")) != "") {
		if step.skip != "" {
			logger.Info("skipping step", "step", step.name, "reason", step.skip)
			continue
		}
		if err := runCommand(ctx, logger, step.name, step.argv[0], step.argv[1:]...); err != nil {
			return err
		}
	}

	logger.Info("validation passed", "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func runGofmtCheck(ctx context.Context, logger *slog.Logger) error {
	files, err := listGoFiles(".")
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		logger.Info("skipping step", "step", "gofmt", "reason", "no go files found")
		return nil
	}

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("gofmt: %w", err)
	}
	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}

	logger.Info("step completed", "step", "gofmt", "files", len(files))
	return nil
}

func runCommand(ctx context.Context, logger *slog.Logger, step string, name string, args ...string) error {
	logger.Info("running step", "step", step, "command", strings.Join(append([]string{name}, args...), " "))
	started := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		logger.Error("step failed", "step", step, "exit_code", exitCode, "duration_ms", time.Since(started).Milliseconds())
		return fmt.Errorf("%s: %w", step, err)
	}

	logger.Info("step completed", "step", step, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// listGoFiles walks root the way the go tool does: vendor, dot and underscore
// directories are skipped.
func listGoFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "vendor" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}
