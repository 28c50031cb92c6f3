package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/fgeck/crd-provision/internal/prompt"
	"github.com/fgeck/crd-provision/internal/services/runner"
	"github.com/fgeck/crd-provision/internal/services/setup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// tokenLabel is shown when prompting for the activation command.
const tokenLabel = "Google CRD SSH Code"

var (
	tokenFlag string
	pinFlag   string
	noWait    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the host and register it with Chrome Remote Desktop",
	Long: `Execute the complete provisioning workflow:
1. Prompt for the activation command (unless given via --token, config or env)
2. Wake-on-LAN and SSH connect (if a remote target is configured)
3. Update package lists and create the login account
4. Install the remote desktop agent and the XFCE desktop (required)
5. Install browser, Python runtime, automation tools, apps and wallpapers
6. Start the agent with the activation command and PIN
7. Send Telegram notification (if configured)
8. Print the connection summary and wait for Ctrl+C`,
	RunE: runProvision,
}

func init() {
	runCmd.Flags().StringVar(&tokenFlag, "token", "", "activation command from remotedesktop.google.com/headless")
	runCmd.Flags().StringVar(&pinFlag, "pin", "", "remote desktop PIN (at least 6 digits)")
	runCmd.Flags().BoolVar(&noWait, "no-wait", false, "exit after printing the summary instead of waiting for Ctrl+C")
}

// TokenReader asks the operator for the activation command.
type TokenReader func(ctx context.Context, out io.Writer, label string) (string, error)

// provisioner carries what a run needs from the outside world.
type provisioner struct {
	runner    runner.Service
	readToken TokenReader
	out       io.Writer
	noWait    bool
	logger    zerolog.Logger
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if tokenFlag != "" {
		cfg.Credential.Token = tokenFlag
	}
	if pinFlag != "" {
		cfg.Credential.PIN = pinFlag
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	logger := log.With().Str("run_id", uuid.NewString()).Logger()

	logger.Info().
		Str("config", configFile).
		Str("username", cfg.Account.Username).
		Bool("remote", cfg.Target != nil).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	p := &provisioner{
		runner:    runner.New(logger),
		readToken: prompt.Token,
		out:       os.Stdout,
		noWait:    noWait,
		logger:    logger,
	}
	return p.provision(ctx, cfg)
}

// provision prompts for a missing token, runs the provisioning and prints the
// summary. Unless noWait is set it then blocks until ctx is cancelled, which
// counts as a clean exit.
func (p *provisioner) provision(ctx context.Context, cfg *models.ProvisionConfig) error {
	if cfg.Credential.Token == "" {
		token, err := p.readToken(ctx, p.out, tokenLabel)
		if err != nil {
			if errors.Is(err, prompt.ErrCancelled) {
				p.logger.Warn().Msg("operation cancelled by user")
			}
			return err
		}
		cfg.Credential.Token = token
	}

	if err := config.ValidateCredential(cfg.Credential); err != nil {
		p.logger.Error().Err(err).Msg("invalid operator input")
		return err
	}

	result, err := p.runner.Run(ctx, *cfg)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Warn().Msg("provisioning interrupted")
		} else {
			p.logger.Error().Err(err).Msg("provisioning failed")
		}
		return err
	}

	if result.Warnings != nil {
		p.logger.Warn().Err(result.Warnings).Msg("some optional steps failed")
	}

	if err := setup.WriteSummary(p.out, *cfg); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	if p.noWait {
		return nil
	}

	fmt.Fprintln(p.out, "\nPress Ctrl+C to exit")
	<-ctx.Done()
	p.logger.Info().Msg("exiting")
	return nil
}
