//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/services/command"
	"github.com/fgeck/crd-provision/internal/services/setup"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func requireBash(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath(command.Shell); err != nil {
		t.Skip("bash not available")
	}
}

func TestCommandRunner_Integration(t *testing.T) {
	requireBash(t)

	svc := command.New(testLogger())

	result := svc.Run(context.Background(), models.Command{Line: `echo "$DEBIAN_FRONTEND"`, Check: true})
	assert.True(t, result.Success())
	assert.Equal(t, "noninteractive", result.Output)

	result = svc.Run(context.Background(), models.Command{Line: "echo broken >&2; exit 100", Check: true})
	assert.True(t, result.Started)
	assert.Equal(t, 100, result.ExitCode)
	assert.Contains(t, result.Output, "broken")
	assert.False(t, result.Success())

	result = svc.Run(context.Background(), models.Command{Line: "exit 1"})
	assert.True(t, result.Success())
}

func TestCommandRunner_Timeout_Integration(t *testing.T) {
	requireBash(t)

	svc := command.New(testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result := svc.Run(ctx, models.Command{Line: "sleep 30", Check: true})

	assert.False(t, result.Success())
	assert.Less(t, result.Duration, 10*time.Second)
}

// TestSetupPipeline_Integration provisions the machine it runs on. Only enable
// it inside a disposable Debian/Ubuntu container running as root.
func TestSetupPipeline_Integration(t *testing.T) {
	if os.Getenv("TEST_PROVISION_DISPOSABLE") != "true" {
		t.Skip("TEST_PROVISION_DISPOSABLE is not true - skipping real provisioning")
	}
	requireBash(t)

	cfg, err := config.NewParser().LoadDefaults()
	require.NoError(t, err)

	// "true" ignores its arguments, standing in for the activation command.
	cfg.Credential.Token = "true"
	cfg.Credential.PIN = "482913"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	logger := testLogger()
	svc := setup.New(logger, command.New(logger), setup.NewLocalPrivilege())

	result, err := svc.Run(ctx, *cfg)

	require.NoError(t, err)
	assert.Empty(t, result.FailedStep)
	assert.Len(t, result.Steps, 10)

	out, err := exec.Command("id", "-nG", cfg.Account.Username).CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Contains(t, string(out), cfg.Account.AdminGroup)
	assert.Contains(t, string(out), cfg.RemoteDesktop.Group)

	out, err = exec.Command("dpkg", "-s", cfg.RemoteDesktop.PackageName).CombinedOutput()
	require.NoError(t, err, string(out))

	session, err := os.ReadFile(cfg.RemoteDesktop.SessionFile)
	require.NoError(t, err)
	assert.Equal(t, cfg.Desktop.SessionCommand+"\n", string(session))
}
