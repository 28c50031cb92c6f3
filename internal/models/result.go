package models

import "time"

// Command is a single shell command line run by the command runner.
type Command struct {
	Line    string
	Display string // shown in logs instead of Line when set
	Check   bool   // treat a non-zero exit as failure
}

// String returns the loggable form of the command.
func (c Command) String() string {
	if c.Display != "" {
		return c.Display
	}
	return c.Line
}

// CommandResult holds the outcome of one command invocation.
type CommandResult struct {
	Command  Command
	Started  bool // false if the process could not be started at all
	ExitCode int  // -1 when killed by a signal or never started
	Output   string
	Duration time.Duration
	Error    error
}

// Success reports whether the command counts as successful under its Check flag.
func (r CommandResult) Success() bool {
	if !r.Started || r.ExitCode < 0 {
		return false
	}
	return r.ExitCode == 0 || !r.Command.Check
}

// StepResult holds the outcome of one pipeline step.
type StepResult struct {
	Name     string
	Policy   string
	Duration time.Duration
	Error    error
}

// ProvisionResult holds the outcome of a pipeline run.
type ProvisionResult struct {
	Steps           []StepResult
	FailedStep      string // name of the load-bearing step that aborted the run
	CancelledBefore string // step that was due when the context was cancelled; it never ran
	Warnings        error  // aggregated best-effort failures, nil if none
	Duration        time.Duration
}
