// Package pipeline runs an ordered list of named provisioning steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/crd-provision/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Policy decides what a step failure means for the rest of the pipeline.
type Policy int

const (
	// BestEffort steps log their failure and let the pipeline continue.
	BestEffort Policy = iota
	// Required steps abort every remaining step when they fail.
	Required
)

func (p Policy) String() string {
	switch p {
	case Required:
		return "required"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ErrStepFailed wraps the error of a required step that aborted the pipeline.
var ErrStepFailed = errors.New("required step failed")

// Step is one named unit of provisioning work.
type Step struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Service defines the interface for the step pipeline.
type Service interface {
	Execute(ctx context.Context, steps []Step) (*models.ProvisionResult, error)
}

// Impl implements the pipeline Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new pipeline service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Execute runs the steps in order. The returned result is never nil and
// reflects every step that ran, including the one that aborted the run.
func (s *Impl) Execute(ctx context.Context, steps []Step) (*models.ProvisionResult, error) {
	start := time.Now()
	result := &models.ProvisionResult{}
	var warnings *multierror.Error

	defer func() {
		result.Duration = time.Since(start)
		result.Warnings = warnings.ErrorOrNil()
	}()

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			s.logger.Warn().Str("step", step.Name).Msg("pipeline cancelled")
			result.CancelledBefore = step.Name
			return result, fmt.Errorf("cancelled before %s: %w", step.Name, err)
		}

		s.logger.Info().
			Str("step", step.Name).
			Str("policy", step.Policy.String()).
			Int("index", i+1).
			Int("total", len(steps)).
			Msg("starting step")

		stepStart := time.Now()
		err := step.Run(ctx)
		stepResult := models.StepResult{
			Name:     step.Name,
			Policy:   step.Policy.String(),
			Duration: time.Since(stepStart),
			Error:    err,
		}
		result.Steps = append(result.Steps, stepResult)

		if err == nil {
			s.logger.Info().
				Str("step", step.Name).
				Dur("duration", stepResult.Duration).
				Msg("step completed")
			continue
		}

		if step.Policy == Required {
			s.logger.Error().
				Err(err).
				Str("step", step.Name).
				Msg("required step failed, aborting")
			result.FailedStep = step.Name
			return result, fmt.Errorf("%w: %s: %w", ErrStepFailed, step.Name, err)
		}

		s.logger.Warn().
			Err(err).
			Str("step", step.Name).
			Msg("step failed, continuing")
		warnings = multierror.Append(warnings, fmt.Errorf("%s: %w", step.Name, err))
	}

	return result, nil
}
