package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/services/setup"
	"github.com/fgeck/crd-provision/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	dumpConfig bool
	testTarget bool
)

// errNoTarget is returned by --test-connection when no remote target is configured.
var errNoTarget = errors.New("--test-connection requires a remote target (target.host)")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration without changing the host. Prints the resolved
settings and the provisioning plan.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&dumpConfig, "dump", false, "print the resolved configuration as YAML (secrets redacted)")
	validateCmd.Flags().BoolVar(&testTarget, "test-connection", false, "verify SSH connectivity to the remote target")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	// Load configuration
	cfg, parser, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	if testTarget && cfg.Target == nil {
		log.Error().Msg("no remote target configured, nothing to test")
		return errNoTarget
	}

	if dumpConfig {
		out, err := yaml.Marshal(parser.Settings())
		if err != nil {
			return fmt.Errorf("rendering config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Username: %s\n", cfg.Account.Username)
	fmt.Printf("  Admin group: %s\n", cfg.Account.AdminGroup)
	fmt.Printf("  Shell: %s\n", cfg.Account.Shell)
	fmt.Printf("  Activation token: %v\n", cfg.Credential.Token != "")
	fmt.Printf("  Remote desktop package: %s\n", cfg.RemoteDesktop.PackageURL)
	fmt.Printf("  Desktop packages: %v\n", cfg.Desktop.Packages)
	fmt.Printf("  Work dir: %s\n", cfg.WorkDir)
	fmt.Println()
	fmt.Println("Plan:")
	for i, step := range setup.New(log.Logger, nil, nil).Steps(*cfg) {
		fmt.Printf("  %2d. %-24s %s\n", i+1, step.Name, step.Policy)
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Remote target: %v\n", cfg.Target != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Target != nil {
		fmt.Println()
		fmt.Println("Target Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Target.Host)
		fmt.Printf("  Port: %d\n", cfg.Target.Port)
		fmt.Printf("  Username: %s\n", cfg.Target.Username)
		fmt.Printf("  Sudo: %v\n", cfg.Target.Sudo)
		if cfg.Target.KnownHostsPath != "" {
			fmt.Printf("  Known hosts: %s\n", cfg.Target.KnownHostsPath)
		}
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Printf("  Ready address: %s\n", cfg.WOL.ReadyAddress)
		fmt.Printf("  Timeout: %s\n", cfg.WOL.Timeout)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if testTarget {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result, err := ssh.New(log.Logger).TestConnection(ctx, *cfg.Target)
		if err != nil {
			return err
		}
		if result.Error != nil {
			log.Error().Err(result.Error).Str("host", cfg.Target.Host).Msg("SSH connection test failed")
			return result.Error
		}
		fmt.Println()
		fmt.Println("SSH connection: OK")
	}

	return nil
}
