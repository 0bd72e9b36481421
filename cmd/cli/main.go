// SPDX-License-Identifier: Apache-2.0

// Command cli bundles developer checks: gofmt, vet, unit tests, and the
// archive integration tests when DATABASE_URL is set.
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
	"sort"
	"strings"
	"time"
)

type step struct {
	name string
	args []string
	// skipReason makes the step a no-op when non-empty.
	skipReason string
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 || os.Args[1] != "validate" {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/cli validate")
		os.Exit(2)
	}

	ctx := context.Background()
	started := time.Now()

	if err := gofmtCheck(ctx, logger); err != nil {
		logger.Error("validation failed", "error", err)
		os.Exit(1)
	}

	steps := []step{
		{name: "go vet", args: []string{"go", "vet", "./..."}},
		{name: "go test unit", args: []string{"go", "test", "./..."}},
		{
			name: "go test integration",
			args: []string{"go", "test", "-count=1", "-tags=integration", "./internal/archive"},
		},
	}
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) == "" {
		steps[2].skipReason = "DATABASE_URL is not set"
	}

	for _, s := range steps {
		if s.skipReason != "" {
			logger.Info("skipping step", "step", s.name, "reason", s.skipReason)
			continue
		}
		if err := runStep(ctx, logger, s); err != nil {
			logger.Error("validation failed", "step", s.name, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("validation passed", "duration_ms", time.Since(started).Milliseconds())
}

func runStep(ctx context.Context, logger *slog.Logger, s step) error {
	logger.Info("running step", "step", s.name, "command", strings.Join(s.args, " "))
	started := time.Now()

	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		logger.Error("step failed",
			"step", s.name,
			"duration_ms", time.Since(started).Milliseconds(),
			"exit_code", exitCode,
		)
		return err
	}

	logger.Info("step completed", "step", s.name, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func gofmtCheck(ctx context.Context, logger *slog.Logger) error {
	files, err := listGoFiles(".")
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		logger.Info("skipping step", "step", "gofmt check", "reason", "no go files found")
		return nil
	}

	logger.Info("running step", "step", "gofmt check", "files", len(files))

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("gofmt check failed: %w", err)
	}
	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}
	return nil
}

func listGoFiles(root string) ([]string, error) {
	files := make([]string, 0, 64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".cache", ".gocache", ".gomodcache", "vendor":
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

	sort.Strings(files)
	return files, nil
}
