// Package models contains the data structures used throughout crd-provision.
package models

// ProvisionConfig holds the complete configuration for a provisioning run.
type ProvisionConfig struct {
	Credential    CredentialConfig
	Account       AccountConfig
	RemoteDesktop RemoteDesktopConfig
	Desktop       DesktopConfig
	Browser       BrowserConfig
	Runtime       RuntimeConfig
	Automation    AutomationConfig
	Apps          AppsConfig
	Wallpaper     WallpaperConfig
	WorkDir       string          // where downloaded packages are stored
	Target        *SSHConfig      // nil provisions the local host
	WOL           *WOLConfig      // nil if not configured
	Telegram      *TelegramConfig // nil if not configured
}

// CredentialConfig holds the operator-supplied session credential.
type CredentialConfig struct {
	Token string // remote desktop activation command, usually prompted
	PIN   string // decimal digits, at least 6
}

// AccountConfig describes the OS account the remote session runs as.
type AccountConfig struct {
	Username   string
	Password   string
	Shell      string
	AdminGroup string
}

// RemoteDesktopConfig describes the remote desktop agent package and service.
type RemoteDesktopConfig struct {
	PackageURL  string
	PackageName string
	Group       string // access group the account must belong to
	Service     string // systemd unit name
	SessionFile string // file holding the session command the agent launches
}

// DesktopConfig describes the desktop environment installation.
type DesktopConfig struct {
	Packages       []string
	ExtraPackages  []string
	RemovePackages []string // conflicting packages, removal failures are ignored
	StopServices   []string
	StartServices  []string
	SessionCommand string
}

// BrowserConfig describes the browser package.
type BrowserConfig struct {
	PackageURL string
}

// RuntimeConfig describes the scripting runtime packages.
type RuntimeConfig struct {
	Packages []string
}

// AutomationConfig describes the browser-automation tooling.
type AutomationConfig struct {
	PipPackages []string
	Packages    []string
}

// AppsConfig describes auxiliary applications.
type AppsConfig struct {
	Packages []string
}

// WallpaperConfig describes the wallpaper assets fetched into the theme directory.
type WallpaperConfig struct {
	Dir     string
	BaseURL string
	Files   []string
}
