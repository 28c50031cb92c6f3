// Package runner orchestrates a provisioning run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/services/command"
	"github.com/fgeck/crd-provision/internal/services/setup"
	"github.com/fgeck/crd-provision/internal/services/ssh"
	"github.com/fgeck/crd-provision/internal/services/telegram"
	"github.com/fgeck/crd-provision/internal/services/wol"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Stages reported as the failed step when a run stops before the setup pipeline.
const (
	StageWOL        = "wol"
	StageConnect    = "connect"
	StageValidation = "validation"
	StagePrivileges = "privileges"
	StageSetup      = "setup"
	StageCancelled  = "cancelled"
)

// notifyTimeout bounds the Telegram call, which also runs after an interrupt.
const notifyTimeout = 30 * time.Second

// Service defines the interface for the provisioning runner.
type Service interface {
	Run(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error)
}

// Target is a connected remote host that commands run on.
type Target interface {
	command.CommandExecutor
	setup.PrivilegeChecker
	Close() error
}

// Connector opens connections to remote targets.
type Connector interface {
	Connect(ctx context.Context, cfg models.SSHConfig) (Target, error)
}

// SetupFactory builds the setup service for the chosen command runner.
type SetupFactory func(logger zerolog.Logger, commands command.Service, privilege setup.PrivilegeChecker) setup.Service

// sshConnector adapts the SSH service to Connector.
type sshConnector struct {
	svc ssh.Service
}

func (c sshConnector) Connect(ctx context.Context, cfg models.SSHConfig) (Target, error) {
	executor, err := c.svc.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return executor, nil
}

func newSetup(logger zerolog.Logger, commands command.Service, privilege setup.PrivilegeChecker) setup.Service {
	return setup.New(logger, commands, privilege)
}

// Impl implements the runner Service interface.
type Impl struct {
	wolSvc         wol.Service
	connector      Connector
	telegramSvc    telegram.Service
	localCommands  command.Service
	localPrivilege setup.PrivilegeChecker
	newSetup       SetupFactory
	logger         zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolSvc:         wol.New(logger),
		connector:      sshConnector{svc: ssh.New(logger)},
		telegramSvc:    telegram.New(logger),
		localCommands:  command.New(logger),
		localPrivilege: setup.NewLocalPrivilege(),
		newSetup:       newSetup,
		logger:         logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	wolSvc wol.Service,
	connector Connector,
	telegramSvc telegram.Service,
	localCommands command.Service,
	localPrivilege setup.PrivilegeChecker,
	setupFactory SetupFactory,
) *Impl {
	return &Impl{
		wolSvc:         wolSvc,
		connector:      connector,
		telegramSvc:    telegramSvc,
		localCommands:  localCommands,
		localPrivilege: localPrivilege,
		newSetup:       setupFactory,
		logger:         logger,
	}
}

// Run provisions the local host, or cfg.Target over SSH after waking it when
// WOL is configured, and reports the outcome to Telegram.
func (s *Impl) Run(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
	startTime := time.Now()
	var result *models.ProvisionResult
	var failedStep string
	var runErr error

	s.logger.Info().
		Str("username", cfg.Account.Username).
		Bool("remote", cfg.Target != nil).
		Msg("starting provisioning run")

	defer func() {
		// Send notification if configured
		if cfg.Telegram != nil {
			s.sendNotification(ctx, cfg, startTime, result, failedStep, runErr)
		}
	}()

	commands, privilege := s.localCommands, s.localPrivilege

	if cfg.Target != nil {
		// Step 1: Wake-on-LAN (if configured)
		if cfg.WOL != nil {
			failedStep = StageWOL
			if err := s.runWOL(ctx, cfg.WOL); err != nil {
				runErr = err
				return nil, err
			}
		}

		// Step 2: Connect to the target
		failedStep = StageConnect
		target, err := s.connector.Connect(ctx, *cfg.Target)
		if err != nil {
			runErr = fmt.Errorf("connecting to target: %w", err)
			return nil, runErr
		}
		defer func() {
			if err := target.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("failed to close target connection")
			}
		}()

		commands = command.NewWithExecutor(s.logger, target)
		privilege = target
	}

	// Step 3: Setup pipeline
	failedStep = StageSetup
	result, runErr = s.newSetup(s.logger, commands, privilege).Run(ctx, cfg)
	if runErr != nil {
		failedStep = stageOf(result, runErr)
		return result, runErr
	}

	// Success - clear failedStep
	failedStep = ""
	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("provisioning run completed successfully")

	return result, nil
}

// stageOf names where a failed setup run stopped.
func stageOf(result *models.ProvisionResult, err error) string {
	switch {
	case result != nil && result.FailedStep != "":
		return result.FailedStep
	case result != nil && result.CancelledBefore != "":
		return StageCancelled + " before " + result.CancelledBefore
	case errors.Is(err, config.ErrInvalidToken), errors.Is(err, config.ErrInvalidPIN):
		return StageValidation
	case errors.Is(err, setup.ErrNotPrivileged):
		return StagePrivileges
	default:
		return StageSetup
	}
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.ReadyAddress).
		Msg("sending Wake-on-LAN packet")

	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}

	if !result.TargetReady && cfg.ReadyAddress != "" {
		return fmt.Errorf("target did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	cfg models.ProvisionConfig,
	startTime time.Time,
	result *models.ProvisionResult,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:   runErr == nil,
		Host:      hostName(cfg),
		Username:  cfg.Account.Username,
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}

	if result != nil {
		msg.StepsRun = len(result.Steps)
		var warnings *multierror.Error
		if errors.As(result.Warnings, &warnings) {
			for _, w := range warnings.Errors {
				msg.Warnings = append(msg.Warnings, w.Error())
			}
		}
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	// Report interrupted runs too.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	sent, err := s.telegramSvc.SendNotification(sendCtx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if sent.Error != nil {
		s.logger.Error().Err(sent.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

func hostName(cfg models.ProvisionConfig) string {
	if cfg.Target != nil {
		return cfg.Target.Host
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "localhost"
}
