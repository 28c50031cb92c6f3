package setup

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/fgeck/crd-provision/internal/models"
)

var banner = color.New(color.FgGreen, color.Bold)

// WriteSummary prints the connection details the operator needs to log in.
func WriteSummary(w io.Writer, cfg models.ProvisionConfig) error {
	rule := strings.Repeat("=", 60)

	var b strings.Builder
	b.WriteString("\n" + rule + "\n")
	b.WriteString(banner.Sprint("CHROME REMOTE DESKTOP SETUP COMPLETE") + "\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "PIN: %s\n", cfg.Credential.PIN)
	fmt.Fprintf(&b, "Username: %s\n", cfg.Account.Username)
	fmt.Fprintf(&b, "Password: %s\n", cfg.Account.Password)
	if cfg.Target != nil {
		fmt.Fprintf(&b, "Host: %s\n", cfg.Target.Host)
	}
	b.WriteString(rule + "\n")
	b.WriteString("\nSetup complete! Chrome Remote Desktop is now running.\n")
	b.WriteString("You can now connect using Chrome Remote Desktop.\n")

	_, err := io.WriteString(w, b.String())
	return err
}
