package main

import (
	"os"
	"strings"

	"github.com/fgeck/crd-provision/internal/config"
	"github.com/fgeck/crd-provision/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "crd-provision",
	Short: "Provision a Chrome Remote Desktop workstation on a Debian/Ubuntu host",
	Long: `crd-provision turns a fresh Debian/Ubuntu machine into a Chrome Remote Desktop
workstation:
  - creates the login account
  - installs the remote desktop agent and an XFCE desktop
  - installs a browser, Python with Selenium, and auxiliary apps
  - registers the host using a Google-issued activation command

It provisions the local machine, or a remote target over SSH (optionally
woken with Wake-on-LAN first), and can report the outcome to Telegram.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (defaults are used when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads configFile, or builds the configuration from defaults and
// the environment when no file is given.
func loadConfig() (*models.ProvisionConfig, *config.Parser, error) {
	parser := config.NewParser()
	if configFile == "" {
		cfg, err := parser.LoadDefaults()
		return cfg, parser, err
	}
	cfg, err := parser.LoadFile(configFile)
	return cfg, parser, err
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
