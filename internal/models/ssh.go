package models

// SSHConfig holds the connection settings for a remote provisioning target.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	PrivateKey     []byte // loaded from file path
	KeyPath        string // path to key file
	KnownHostsPath string // empty disables host key verification
	Sudo           bool   // wrap every command in sudo -n
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
