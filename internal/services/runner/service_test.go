package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/services/command"
	"github.com/fgeck/crd-provision/internal/services/setup"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockWOLService struct {
	wakeFunc func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

func (m *mockWOLService) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	if m.wakeFunc != nil {
		return m.wakeFunc(ctx, cfg)
	}
	return &models.WOLResult{PacketSent: true, TargetReady: true}, nil
}

type mockTarget struct {
	executeFunc    func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
	privilegedFunc func(ctx context.Context) (bool, error)
	closed         bool
}

func (m *mockTarget) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, env, name, args...)
	}
	return nil, nil
}

func (m *mockTarget) IsPrivileged(ctx context.Context) (bool, error) {
	if m.privilegedFunc != nil {
		return m.privilegedFunc(ctx)
	}
	return true, nil
}

func (m *mockTarget) Close() error {
	m.closed = true
	return nil
}

type mockConnector struct {
	connectFunc func(ctx context.Context, cfg models.SSHConfig) (Target, error)
	calls       int
}

func (m *mockConnector) Connect(ctx context.Context, cfg models.SSHConfig) (Target, error) {
	m.calls++
	if m.connectFunc != nil {
		return m.connectFunc(ctx, cfg)
	}
	return &mockTarget{}, nil
}

type mockTelegramService struct {
	sendFunc func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
	messages []models.TelegramMessage
}

func (m *mockTelegramService) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	m.messages = append(m.messages, msg)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, cfg, msg)
	}
	return &models.TelegramResult{MessageSent: true}, nil
}

type mockCommandService struct{}

func (m *mockCommandService) Run(_ context.Context, cmd models.Command) models.CommandResult {
	return models.CommandResult{Command: cmd, Started: true}
}

type mockPrivilege struct{}

func (m *mockPrivilege) IsPrivileged(context.Context) (bool, error) {
	return true, nil
}

type mockSetupService struct {
	runFunc func(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error)
}

func (m *mockSetupService) Run(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, cfg)
	}
	return &models.ProvisionResult{Steps: make([]models.StepResult, 10)}, nil
}

// setupRecorder captures what the runner hands to the setup service.
type setupRecorder struct {
	svc       *mockSetupService
	commands  command.Service
	privilege setup.PrivilegeChecker
	calls     int
}

func (r *setupRecorder) factory(_ zerolog.Logger, commands command.Service, privilege setup.PrivilegeChecker) setup.Service {
	r.calls++
	r.commands = commands
	r.privilege = privilege
	return r.svc
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func minimalConfig() models.ProvisionConfig {
	return models.ProvisionConfig{
		Credential: models.CredentialConfig{Token: "crd-code-abc", PIN: "482913"},
		Account:    models.AccountConfig{Username: "user", Password: "root"},
	}
}

func remoteConfig() models.ProvisionConfig {
	cfg := minimalConfig()
	cfg.Target = &models.SSHConfig{Host: "192.168.1.50", Port: 22, Username: "root"}
	return cfg
}

type fixture struct {
	wol       *mockWOLService
	connector *mockConnector
	telegram  *mockTelegramService
	commands  *mockCommandService
	privilege *mockPrivilege
	setup     *setupRecorder
}

func newFixture() *fixture {
	return &fixture{
		wol:       &mockWOLService{},
		connector: &mockConnector{},
		telegram:  &mockTelegramService{},
		commands:  &mockCommandService{},
		privilege: &mockPrivilege{},
		setup:     &setupRecorder{svc: &mockSetupService{}},
	}
}

func (f *fixture) runner() *Impl {
	return NewWithServices(testLogger(), f.wol, f.connector, f.telegram, f.commands, f.privilege, f.setup.factory)
}

func TestRun_Success_Local(t *testing.T) {
	f := newFixture()

	result, err := f.runner().Run(context.Background(), minimalConfig())

	require.NoError(t, err)
	assert.Len(t, result.Steps, 10)
	assert.Equal(t, 1, f.setup.calls)
	assert.Same(t, f.commands, f.setup.commands)
	assert.Same(t, f.privilege, f.setup.privilege)
	assert.Zero(t, f.connector.calls)
	assert.Empty(t, f.telegram.messages)
}

func TestRun_Remote(t *testing.T) {
	f := newFixture()

	var executed []string
	target := &mockTarget{
		executeFunc: func(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
			executed = append(executed, args[len(args)-1])
			return nil, nil
		},
	}
	var connectedTo models.SSHConfig
	f.connector.connectFunc = func(ctx context.Context, cfg models.SSHConfig) (Target, error) {
		connectedTo = cfg
		return target, nil
	}
	f.setup.svc.runFunc = func(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
		f.setup.commands.Run(ctx, models.Command{Line: "apt-get update"})
		return &models.ProvisionResult{}, nil
	}

	_, err := f.runner().Run(context.Background(), remoteConfig())

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", connectedTo.Host)
	assert.Same(t, target, f.setup.privilege)
	assert.Equal(t, []string{"apt-get update"}, executed)
	assert.True(t, target.closed)
}

func TestRun_WithWOL(t *testing.T) {
	f := newFixture()

	var order []string
	f.wol.wakeFunc = func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
		order = append(order, "wol")
		return &models.WOLResult{PacketSent: true, TargetReady: true}, nil
	}
	f.connector.connectFunc = func(ctx context.Context, cfg models.SSHConfig) (Target, error) {
		order = append(order, "connect")
		return &mockTarget{}, nil
	}

	cfg := remoteConfig()
	cfg.WOL = &models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "255.255.255.255",
		ReadyAddress: "192.168.1.50:22",
		Timeout:      5 * time.Minute,
		PollInterval: 10 * time.Second,
	}

	_, err := f.runner().Run(context.Background(), cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{"wol", "connect"}, order)
}

func TestRun_WOLFailure(t *testing.T) {
	f := newFixture()
	f.wol.wakeFunc = func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
		return &models.WOLResult{PacketSent: true, Error: errors.New("timeout waiting for target")}, nil
	}

	cfg := remoteConfig()
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", ReadyAddress: "192.168.1.50:22"}
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	_, err := f.runner().Run(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "WOL failed")
	assert.Zero(t, f.connector.calls)
	assert.Zero(t, f.setup.calls)

	require.Len(t, f.telegram.messages, 1)
	assert.False(t, f.telegram.messages[0].Success)
	assert.Equal(t, StageWOL, f.telegram.messages[0].FailedStep)
}

func TestRun_WOLTargetNotReady(t *testing.T) {
	f := newFixture()
	f.wol.wakeFunc = func(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
		return &models.WOLResult{PacketSent: true}, nil
	}

	cfg := remoteConfig()
	cfg.WOL = &models.WOLConfig{MACAddress: "AA:BB:CC:DD:EE:FF", ReadyAddress: "192.168.1.50:22"}

	_, err := f.runner().Run(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
}

func TestRun_ConnectFailure(t *testing.T) {
	f := newFixture()
	f.connector.connectFunc = func(ctx context.Context, cfg models.SSHConfig) (Target, error) {
		return nil, errors.New("failed to connect: connection refused")
	}

	cfg := remoteConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	_, err := f.runner().Run(context.Background(), cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to target")
	assert.Zero(t, f.setup.calls)

	require.Len(t, f.telegram.messages, 1)
	assert.Equal(t, StageConnect, f.telegram.messages[0].FailedStep)
	assert.Equal(t, "192.168.1.50", f.telegram.messages[0].Host)
}

func TestRun_SetupFailureReported(t *testing.T) {
	tests := []struct {
		name       string
		result     *models.ProvisionResult
		err        error
		failedStep string
	}{
		{
			name:       "required step",
			result:     &models.ProvisionResult{Steps: make([]models.StepResult, 4), FailedStep: setup.StepDesktop},
			err:        errors.New("required step failed: install-desktop: exit code 100"),
			failedStep: setup.StepDesktop,
		},
		{
			name:       "invalid pin",
			err:        fmt.Errorf("validating inputs: %w", config.ErrInvalidPIN),
			failedStep: StageValidation,
		},
		{
			name:       "not privileged",
			err:        setup.ErrNotPrivileged,
			failedStep: StagePrivileges,
		},
		{
			name:       "privilege check error",
			err:        errors.New("checking privileges: sudo: a password is required"),
			failedStep: StageSetup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.setup.svc.runFunc = func(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
				return tt.result, tt.err
			}

			cfg := minimalConfig()
			cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

			_, err := f.runner().Run(context.Background(), cfg)

			require.Error(t, err)
			require.Len(t, f.telegram.messages, 1)
			msg := f.telegram.messages[0]
			assert.False(t, msg.Success)
			assert.Equal(t, tt.failedStep, msg.FailedStep)
			assert.Equal(t, tt.err.Error(), msg.ErrorMessage)
		})
	}
}

func TestRun_WarningsReported(t *testing.T) {
	f := newFixture()
	f.setup.svc.runFunc = func(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
		var warnings *multierror.Error
		warnings = multierror.Append(warnings, errors.New("install-apps: exit code 100"))
		warnings = multierror.Append(warnings, errors.New("install-wallpapers: curl failed"))
		return &models.ProvisionResult{
			Steps:    make([]models.StepResult, 10),
			Warnings: warnings.ErrorOrNil(),
		}, nil
	}

	cfg := minimalConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	_, err := f.runner().Run(context.Background(), cfg)

	require.NoError(t, err)
	require.Len(t, f.telegram.messages, 1)
	msg := f.telegram.messages[0]
	assert.True(t, msg.Success)
	assert.Equal(t, 10, msg.StepsRun)
	assert.Equal(t, "user", msg.Username)
	assert.Equal(t, []string{"install-apps: exit code 100", "install-wallpapers: curl failed"}, msg.Warnings)
	assert.Empty(t, msg.FailedStep)
}

func TestRun_NotificationSurvivesCancellation(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	f.setup.svc.runFunc = func(ctx context.Context, cfg models.ProvisionConfig) (*models.ProvisionResult, error) {
		cancel()
		return &models.ProvisionResult{CancelledBefore: setup.StepBrowser}, fmt.Errorf("cancelled before install-browser: %w", ctx.Err())
	}

	var sendErr error
	f.telegram.sendFunc = func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
		sendErr = ctx.Err()
		return &models.TelegramResult{MessageSent: true}, nil
	}

	cfg := minimalConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	_, err := f.runner().Run(ctx, cfg)

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.telegram.messages, 1)
	assert.NoError(t, sendErr)
	assert.Equal(t, "cancelled before install-browser", f.telegram.messages[0].FailedStep)
}

func TestRun_TelegramFailureDoesNotFailRun(t *testing.T) {
	f := newFixture()
	f.telegram.sendFunc = func(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
		return &models.TelegramResult{Error: errors.New("telegram API returned status 401")}, nil
	}

	cfg := minimalConfig()
	cfg.Telegram = &models.TelegramConfig{BotToken: "123:ABC", ChatID: "42"}

	_, err := f.runner().Run(context.Background(), cfg)

	assert.NoError(t, err)
}
