// Package command runs provisioning shell commands and reports their outcome.
package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fgeck/crd-provision/internal/models"
	"github.com/rs/zerolog"
)

// Shell is the interpreter every command line is handed to.
const Shell = "/bin/bash"

// NonInteractiveEnv keeps package installation from prompting.
var NonInteractiveEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

// Service defines the interface for running provisioning commands.
type Service interface {
	Run(ctx context.Context, cmd models.Command) models.CommandResult
}

// CommandExecutor allows mocking exec.Command in tests and running commands remotely.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// exitStatuser is implemented by remote exit errors (ssh.ExitError).
type exitStatuser interface {
	ExitStatus() int
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	env      []string
	logger   zerolog.Logger
}

// New creates a command runner executing on the local host.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		env:      NonInteractiveEnv,
		logger:   logger,
	}
}

// NewWithExecutor creates a command runner with a custom executor (remote target or tests).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		env:      NonInteractiveEnv,
		logger:   logger,
	}
}

// Run executes a single command line and never returns an error for an
// expected provisioning failure: the outcome is carried by the result.
func (s *Impl) Run(ctx context.Context, cmd models.Command) models.CommandResult {
	result := models.CommandResult{Command: cmd}
	start := time.Now()

	s.logger.Debug().Str("command", cmd.String()).Bool("check", cmd.Check).Msg("running command")

	output, err := s.executor.ExecuteWithEnv(ctx, s.env, Shell, "-c", cmd.Line)
	result.Duration = time.Since(start)
	result.Output = strings.TrimSpace(string(output))

	if err == nil {
		result.Started = true
		return result
	}

	var exitErr *exec.ExitError
	var remoteErr exitStatuser
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		result.Started = true
		result.ExitCode = exitErr.ExitCode()
	case errors.As(err, &remoteErr):
		result.Started = true
		result.ExitCode = remoteErr.ExitStatus()
	default:
		// Killed by a signal (exitErr set) or never started.
		result.Started = exitErr != nil
		result.ExitCode = -1
		result.Error = err
		s.logger.Error().
			Err(err).
			Str("command", cmd.String()).
			Msg("command could not be run")
		return result
	}

	result.Error = err
	if !cmd.Check {
		s.logger.Debug().
			Int("exit_code", result.ExitCode).
			Str("command", cmd.String()).
			Msg("command exited non-zero, ignored")
		return result
	}

	s.logger.Error().
		Int("exit_code", result.ExitCode).
		Str("command", cmd.String()).
		Str("output", lastLines(result.Output, 20)).
		Msg("command failed")

	return result
}

// lastLines keeps log lines bounded when apt dumps a whole transcript.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
