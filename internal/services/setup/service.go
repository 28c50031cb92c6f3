// Package setup provisions a Chrome Remote Desktop host step by step.
package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/services/command"
	"github.com/fgeck/crd-provision/internal/services/pipeline"
	"github.com/rs/zerolog"
)

// Step names, in execution order.
const (
	StepUpdateSystem  = "update-system"
	StepSetupUser     = "setup-user"
	StepRemoteDesktop = "install-remote-desktop"
	StepDesktop       = "install-desktop"
	StepBrowser       = "install-browser"
	StepRuntime       = "install-runtime"
	StepAutomation    = "install-automation"
	StepApps          = "install-apps"
	StepWallpapers    = "install-wallpapers"
	StepFinalize      = "finalize"
)

// ErrNotPrivileged is returned when the target is not operated as root.
var ErrNotPrivileged = errors.New("provisioning requires superuser privileges")

// Service defines the interface for host provisioning.
type Service interface {
	Run(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error)
}

// PrivilegeChecker reports whether commands will run as the superuser.
type PrivilegeChecker interface {
	IsPrivileged(ctx context.Context) (bool, error)
}

// LocalPrivilege checks the effective uid of this process.
type LocalPrivilege struct {
	Geteuid func() int
}

// NewLocalPrivilege returns a checker backed by os.Geteuid.
func NewLocalPrivilege() *LocalPrivilege {
	return &LocalPrivilege{Geteuid: os.Geteuid}
}

// IsPrivileged reports whether the effective uid is 0.
func (p *LocalPrivilege) IsPrivileged(_ context.Context) (bool, error) {
	return p.Geteuid() == 0, nil
}

// Impl implements the setup Service interface.
type Impl struct {
	commands    command.Service
	pipelineSvc pipeline.Service
	privilege   PrivilegeChecker
	logger      zerolog.Logger
}

// New creates a new setup service running commands through the given runner.
func New(logger zerolog.Logger, commands command.Service, privilege PrivilegeChecker) *Impl {
	return &Impl{
		commands:    commands,
		pipelineSvc: pipeline.New(logger),
		privilege:   privilege,
		logger:      logger,
	}
}

// NewWithServices creates a new setup service with a custom pipeline (for testing).
func NewWithServices(
	logger zerolog.Logger,
	commands command.Service,
	pipelineSvc pipeline.Service,
	privilege PrivilegeChecker,
) *Impl {
	return &Impl{
		commands:    commands,
		pipelineSvc: pipelineSvc,
		privilege:   privilege,
		logger:      logger,
	}
}

// Run validates the operator inputs, checks privileges and executes every
// provisioning step. No command runs unless both checks pass.
func (s *Impl) Run(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
	start := time.Now()

	if err := config.ValidateCredential(cfg.Credential); err != nil {
		s.logger.Error().Err(err).Msg("invalid operator input")
		return nil, fmt.Errorf("validating inputs: %w", err)
	}

	privileged, err := s.privilege.IsPrivileged(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to determine privileges")
		return nil, fmt.Errorf("checking privileges: %w", err)
	}
	if !privileged {
		s.logger.Error().Msg("this program must be run as root")
		return nil, ErrNotPrivileged
	}

	s.logger.Info().
		Str("username", cfg.Account.Username).
		Msg("starting Chrome Remote Desktop setup")

	result, err := s.pipelineSvc.Execute(ctx, s.Steps(cfg))
	if err != nil {
		return result, err
	}

	s.logger.Info().
		Int("steps", len(result.Steps)).
		Bool("warnings", result.Warnings != nil).
		Dur("duration", time.Since(start)).
		Msg("setup completed")

	return result, nil
}

// Steps returns the provisioning steps for cfg in execution order.
func (s *Impl) Steps(cfg models.ProvisionConfig) []pipeline.Step {
	return []pipeline.Step{
		{Name: StepUpdateSystem, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.updateSystem(ctx)
		}},
		{Name: StepSetupUser, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.setupUser(ctx, cfg.Account)
		}},
		{Name: StepRemoteDesktop, Policy: pipeline.Required, Run: func(ctx context.Context) error {
			return s.installRemoteDesktop(ctx, cfg)
		}},
		{Name: StepDesktop, Policy: pipeline.Required, Run: func(ctx context.Context) error {
			return s.installDesktop(ctx, cfg)
		}},
		{Name: StepBrowser, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.installBrowser(ctx, cfg)
		}},
		{Name: StepRuntime, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.installRuntime(ctx, cfg.Runtime)
		}},
		{Name: StepAutomation, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.installAutomation(ctx, cfg.Automation)
		}},
		{Name: StepApps, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.installApps(ctx, cfg.Apps)
		}},
		{Name: StepWallpapers, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.installWallpapers(ctx, cfg.Wallpaper)
		}},
		{Name: StepFinalize, Policy: pipeline.BestEffort, Run: func(ctx context.Context) error {
			return s.finalize(ctx, cfg)
		}},
	}
}
