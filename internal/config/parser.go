// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/crd-provision/internal/models"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. CRD_PROVISION_ACCOUNT_USERNAME.
const EnvPrefix = "CRD_PROVISION"

// MinPINLength is the shortest PIN the remote desktop agent accepts.
const MinPINLength = 6

var (
	// ErrInvalidToken is returned for an empty or whitespace-only activation token.
	ErrInvalidToken = errors.New("activation token must not be empty")
	// ErrInvalidPIN is returned for a PIN that is not at least MinPINLength decimal digits.
	ErrInvalidPIN = fmt.Errorf("PIN must be at least %d digits", MinPINLength)
	// ErrUnquotedPIN is returned when credential.pin was decoded as a number.
	ErrUnquotedPIN = errors.New(`credential.pin must be a quoted string, e.g. pin: "012345"`)
)

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

// Defaults reproduce the stock Chrome Remote Desktop on XFCE setup.
var defaults = map[string]any{
	"credential.pin": "123456",

	"account.username":    "user",
	"account.password":    "root",
	"account.shell":       "/bin/bash",
	"account.admin_group": "sudo",

	"remote_desktop.package_url":  "https://dl.google.com/linux/direct/chrome-remote-desktop_current_amd64.deb",
	"remote_desktop.package_name": "chrome-remote-desktop",
	"remote_desktop.group":        "chrome-remote-desktop",
	"remote_desktop.service":      "chrome-remote-desktop",
	"remote_desktop.session_file": "/etc/chrome-remote-desktop-session",

	"desktop.packages":        []string{"xfce4", "desktop-base", "xfce4-terminal"},
	"desktop.extra_packages":  []string{"xscreensaver", "dbus-x11"},
	"desktop.remove_packages": []string{"gnome-terminal"},
	"desktop.stop_services":   []string{"lightdm"},
	"desktop.start_services":  []string{"dbus"},
	"desktop.session_command": "exec /etc/X11/Xsession /usr/bin/xfce4-session",

	"browser.package_url": "https://dl.google.com/linux/direct/google-chrome-stable_current_amd64.deb",

	"runtime.packages": []string{"python3", "python3-pip"},

	"automation.pip_packages": []string{"selenium"},
	"automation.packages":     []string{"chromium-chromedriver"},

	"apps.packages": []string{"qbittorrent"},

	"wallpaper.dir":      "/etc/alternatives/desktop-theme/wallpaper/contents/images/",
	"wallpaper.base_url": "https://gitlab.com/chamod12/gcrd_deb_codesandbox.io_rdp/-/raw/main/walls",
	"wallpaper.files":    []string{"3200x2000.svg", "3840x2160.svg", "5120x2880.svg"},

	"work_dir": "/tmp",
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with defaults and environment overrides.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.ProvisionConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.ProvisionConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds a configuration from defaults and the environment only.
func (p *Parser) LoadDefaults() (*models.ProvisionConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.ProvisionConfig, error) {
	cfg := &models.ProvisionConfig{}

	pin, err := p.pin()
	if err != nil {
		return nil, err
	}

	cfg.Credential = models.CredentialConfig{
		Token: strings.TrimSpace(p.expandEnv(p.v.GetString("credential.token"))),
		PIN:   pin,
	}

	cfg.Account = models.AccountConfig{
		Username:   p.v.GetString("account.username"),
		Password:   p.expandEnv(p.v.GetString("account.password")),
		Shell:      p.v.GetString("account.shell"),
		AdminGroup: p.v.GetString("account.admin_group"),
	}

	cfg.RemoteDesktop = models.RemoteDesktopConfig{
		PackageURL:  p.v.GetString("remote_desktop.package_url"),
		PackageName: p.v.GetString("remote_desktop.package_name"),
		Group:       p.v.GetString("remote_desktop.group"),
		Service:     p.v.GetString("remote_desktop.service"),
		SessionFile: p.v.GetString("remote_desktop.session_file"),
	}

	cfg.Desktop = models.DesktopConfig{
		Packages:       p.v.GetStringSlice("desktop.packages"),
		ExtraPackages:  p.v.GetStringSlice("desktop.extra_packages"),
		RemovePackages: p.v.GetStringSlice("desktop.remove_packages"),
		StopServices:   p.v.GetStringSlice("desktop.stop_services"),
		StartServices:  p.v.GetStringSlice("desktop.start_services"),
		SessionCommand: p.v.GetString("desktop.session_command"),
	}

	cfg.Browser = models.BrowserConfig{PackageURL: p.v.GetString("browser.package_url")}
	cfg.Runtime = models.RuntimeConfig{Packages: p.v.GetStringSlice("runtime.packages")}
	cfg.Automation = models.AutomationConfig{
		PipPackages: p.v.GetStringSlice("automation.pip_packages"),
		Packages:    p.v.GetStringSlice("automation.packages"),
	}
	cfg.Apps = models.AppsConfig{Packages: p.v.GetStringSlice("apps.packages")}

	cfg.Wallpaper = models.WallpaperConfig{
		Dir:     p.v.GetString("wallpaper.dir"),
		BaseURL: strings.TrimSuffix(p.v.GetString("wallpaper.base_url"), "/"),
		Files:   p.v.GetStringSlice("wallpaper.files"),
	}

	cfg.WorkDir = p.v.GetString("work_dir")

	// Parse optional SSH target.
	if p.v.IsSet("target") { //nolint:nestif // config parsing with defaults
		cfg.Target = &models.SSHConfig{
			Host:           p.v.GetString("target.host"),
			Port:           p.v.GetInt("target.port"),
			Username:       p.v.GetString("target.username"),
			KeyPath:        p.expandEnv(p.v.GetString("target.key_path")),
			KnownHostsPath: p.expandEnv(p.v.GetString("target.known_hosts")),
			Sudo:           p.v.GetBool("target.sudo"),
		}

		if cfg.Target.Host == "" {
			return nil, fmt.Errorf("target.host is required when target is configured")
		}
		if cfg.Target.Port == 0 {
			cfg.Target.Port = 22
		}
		if cfg.Target.Username == "" {
			cfg.Target.Username = "root"
		}
		if cfg.Target.KeyPath == "" {
			return nil, fmt.Errorf("target.key_path is required when target is configured")
		}
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			ReadyAddress:  p.v.GetString("wol.ready_address"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.ReadyAddress == "" && cfg.Target != nil {
			cfg.WOL.ReadyAddress = net.JoinHostPort(cfg.Target.Host, strconv.Itoa(cfg.Target.Port))
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// redactedKeys are replaced by Redacted in Settings.
var redactedKeys = []string{
	"credential.token",
	"credential.pin",
	"account.password",
	"telegram.bot_token",
}

// Redacted replaces secret values in Settings.
const Redacted = "******"

// Settings returns the resolved key/value tree with secrets redacted.
func (p *Parser) Settings() map[string]any {
	settings := p.v.AllSettings()
	for _, key := range redactedKeys {
		section, name, _ := strings.Cut(key, ".")
		values, ok := settings[section].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := values[name]; ok && v != "" {
			values[name] = Redacted
		}
	}
	return settings
}

// pin reads credential.pin. YAML decodes unquoted digits as an integer, with a
// leading 0 meaning octal, so the typed digits cannot be recovered.
func (p *Parser) pin() (string, error) {
	switch v := p.v.Get("credential.pin").(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(p.expandEnv(v)), nil
	default:
		return "", fmt.Errorf("%w: got %v", ErrUnquotedPIN, v)
	}
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration. The activation
// token is not checked here since it is usually prompted for later.
func Validate(cfg *models.ProvisionConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if !usernamePattern.MatchString(cfg.Account.Username) {
		return fmt.Errorf("account.username %q is not a valid login name", cfg.Account.Username)
	}

	if cfg.Account.Password == "" {
		return fmt.Errorf("account.password is required")
	}

	if err := validatePIN(cfg.Credential.PIN); err != nil {
		return err
	}

	if cfg.RemoteDesktop.PackageURL == "" {
		return fmt.Errorf("remote_desktop.package_url is required")
	}

	if cfg.RemoteDesktop.PackageName == "" {
		return fmt.Errorf("remote_desktop.package_name is required")
	}

	if len(cfg.Desktop.Packages) == 0 {
		return fmt.Errorf("desktop.packages is required")
	}

	if cfg.WOL != nil && cfg.Target == nil {
		return fmt.Errorf("wol requires a remote target")
	}

	return nil
}

// ValidateCredential checks the operator inputs before anything touches the host.
func ValidateCredential(cred models.CredentialConfig) error {
	if strings.TrimSpace(cred.Token) == "" {
		return ErrInvalidToken
	}
	return validatePIN(cred.PIN)
}

func validatePIN(pin string) error {
	if len(pin) < MinPINLength {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPIN
		}
	}
	return nil
}
