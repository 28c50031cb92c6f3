//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/services/command"
	"github.com/fgeck/crd-provision/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHConfig(t *testing.T) models.SSHConfig {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.SSHConfig{
		Host:     host,
		Port:     port,
		Username: user,
		KeyPath:  keyPath,
		Sudo:     os.Getenv("TEST_SSH_SUDO") == "true",
	}
}

func TestSSHTestConnection_E2E(t *testing.T) {
	cfg := getSSHConfig(t)

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
	assert.Nil(t, result.Error)
}

func TestSSHRemoteCommands_E2E(t *testing.T) {
	cfg := getSSHConfig(t)

	executor, err := ssh.New(testLogger()).Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer executor.Close()

	runner := command.NewWithExecutor(testLogger(), executor)

	result := runner.Run(context.Background(), models.Command{Line: `echo "$DEBIAN_FRONTEND"`, Check: true})
	assert.True(t, result.Success())
	assert.Contains(t, result.Output, "noninteractive")

	result = runner.Run(context.Background(), models.Command{Line: "exit 3", Check: true})
	assert.True(t, result.Started)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Success())

	result = runner.Run(context.Background(), models.Command{Line: "exit 3"})
	assert.True(t, result.Success())
}

func TestSSHIsPrivileged_E2E(t *testing.T) {
	cfg := getSSHConfig(t)

	executor, err := ssh.New(testLogger()).Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer executor.Close()

	privileged, err := executor.IsPrivileged(context.Background())

	require.NoError(t, err)
	assert.Equal(t, cfg.Username == "root" || cfg.Sudo, privileged)
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	cfg := models.SSHConfig{
		Host:     "192.168.255.254", // Non-routable IP
		Port:     22,
		Username: "root",
		KeyPath:  os.Getenv("TEST_SSH_KEY_PATH"),
	}

	if cfg.KeyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(ctx, cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
}

func TestSSHInvalidKey_E2E(t *testing.T) {
	cfg := models.SSHConfig{
		Host:       "localhost",
		Port:       22,
		Username:   "root",
		PrivateKey: []byte("invalid key"),
	}

	svc := ssh.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "parse private key")
}
