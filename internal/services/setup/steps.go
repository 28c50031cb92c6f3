package setup

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/fgeck/crd-provision/internal/models"
	"github.com/hashicorp/go-multierror"
	"mvdan.cc/sh/v3/syntax"
)

func (s *Impl) updateSystem(ctx context.Context) error {
	return s.runAll(ctx, checked("apt-get update"))
}

func (s *Impl) setupUser(ctx context.Context, account models.AccountConfig) error {
	user := quote(account.Username)

	credentials, err := quoteErr(account.Username + ":" + account.Password)
	if err != nil {
		return fmt.Errorf("quoting password: %w", err)
	}

	return s.runAll(ctx,
		unchecked(fmt.Sprintf("id %s || useradd -m %s", user, user)),
		checked(fmt.Sprintf("usermod -aG %s %s", quote(account.AdminGroup), user)),
		models.Command{
			Line:    fmt.Sprintf("printf '%%s\\n' %s | chpasswd", credentials),
			Display: fmt.Sprintf("chpasswd (%s)", account.Username),
			Check:   true,
		},
		checked(fmt.Sprintf("usermod -s %s %s", quote(account.Shell), user)),
	)
}

func (s *Impl) installRemoteDesktop(ctx context.Context, cfg models.ProvisionConfig) error {
	rd := cfg.RemoteDesktop
	pkg := downloadPath(cfg.WorkDir, rd.PackageURL)

	err := s.runSequence(ctx,
		checked(fmt.Sprintf("wget -q -O %s %s", quote(pkg), quote(rd.PackageURL))),
		// Fails on missing dependencies, which the next command repairs.
		unchecked("dpkg -i "+quote(pkg)),
		checked("apt-get install -f -y"),
		checked("dpkg -s "+quote(rd.PackageName)),
	)
	if err != nil {
		return err
	}

	s.logger.Info().Str("package", rd.PackageName).Msg("Chrome Remote Desktop installed")
	return nil
}

func (s *Impl) installDesktop(ctx context.Context, cfg models.ProvisionConfig) error {
	desktop := cfg.Desktop

	cmds := []models.Command{checked("apt-get install -y " + quoteAll(desktop.Packages))}
	if len(desktop.ExtraPackages) > 0 {
		cmds = append(cmds, checked("apt-get install -y "+quoteAll(desktop.ExtraPackages)))
	}
	if len(desktop.RemovePackages) > 0 {
		cmds = append(cmds, unchecked("apt-get remove -y "+quoteAll(desktop.RemovePackages)))
	}
	for _, svc := range desktop.StopServices {
		cmds = append(cmds, unchecked(fmt.Sprintf("service %s stop", quote(svc))))
	}
	for _, svc := range desktop.StartServices {
		cmds = append(cmds, unchecked(fmt.Sprintf("service %s start", quote(svc))))
	}
	cmds = append(cmds, checked(fmt.Sprintf("printf '%%s\\n' %s > %s",
		quote(desktop.SessionCommand), quote(cfg.RemoteDesktop.SessionFile))))

	if err := s.runSequence(ctx, cmds...); err != nil {
		return err
	}

	s.logger.Info().Strs("packages", desktop.Packages).Msg("desktop environment installed")
	return nil
}

func (s *Impl) installBrowser(ctx context.Context, cfg models.ProvisionConfig) error {
	if cfg.Browser.PackageURL == "" {
		return nil
	}
	pkg := downloadPath(cfg.WorkDir, cfg.Browser.PackageURL)

	return s.runAll(ctx,
		checked(fmt.Sprintf("wget -q -O %s %s", quote(pkg), quote(cfg.Browser.PackageURL))),
		unchecked("dpkg -i "+quote(pkg)),
		checked("apt-get install -f -y"),
	)
}

func (s *Impl) installRuntime(ctx context.Context, runtime models.RuntimeConfig) error {
	if len(runtime.Packages) == 0 {
		return nil
	}
	return s.runAll(ctx, checked("apt-get install -y "+quoteAll(runtime.Packages)))
}

func (s *Impl) installAutomation(ctx context.Context, automation models.AutomationConfig) error {
	var cmds []models.Command
	if len(automation.PipPackages) > 0 {
		cmds = append(cmds, checked("pip3 install "+quoteAll(automation.PipPackages)))
	}
	if len(automation.Packages) > 0 {
		cmds = append(cmds, checked("apt-get install -y "+quoteAll(automation.Packages)))
	}
	return s.runAll(ctx, cmds...)
}

func (s *Impl) installApps(ctx context.Context, apps models.AppsConfig) error {
	if len(apps.Packages) == 0 {
		return nil
	}
	return s.runAll(ctx, checked("apt-get install -y "+quoteAll(apps.Packages)))
}

func (s *Impl) installWallpapers(ctx context.Context, wallpaper models.WallpaperConfig) error {
	if len(wallpaper.Files) == 0 {
		return nil
	}

	cmds := []models.Command{unchecked("mkdir -p " + quote(wallpaper.Dir))}
	for _, file := range wallpaper.Files {
		url := wallpaper.BaseURL + "/" + file
		dest := path.Join(wallpaper.Dir, file)
		cmds = append(cmds, checked(fmt.Sprintf("curl -fsSL -o %s %s", quote(dest), quote(url))))
	}

	if err := s.runAll(ctx, cmds...); err != nil {
		return err
	}

	s.logger.Info().Int("files", len(wallpaper.Files)).Str("dir", wallpaper.Dir).Msg("wallpapers configured")
	return nil
}

func (s *Impl) finalize(ctx context.Context, cfg models.ProvisionConfig) error {
	user := quote(cfg.Account.Username)

	launch, err := quoteErr(fmt.Sprintf("%s --pin=%s", cfg.Credential.Token, cfg.Credential.PIN))
	if err != nil {
		return fmt.Errorf("quoting activation command: %w", err)
	}

	return s.runAll(ctx,
		unchecked(fmt.Sprintf("usermod -aG %s %s", quote(cfg.RemoteDesktop.Group), user)),
		models.Command{
			Line:    fmt.Sprintf("su - %s -c %s", user, launch),
			Display: fmt.Sprintf("su - %s -c '<activation command> --pin=******'", cfg.Account.Username),
			Check:   true,
		},
		checked("systemctl start "+quote(cfg.RemoteDesktop.Service)),
	)
}

// runSequence stops at the first failing command.
func (s *Impl) runSequence(ctx context.Context, cmds ...models.Command) error {
	for _, cmd := range cmds {
		if result := s.commands.Run(ctx, cmd); !result.Success() {
			return commandError(result)
		}
	}
	return nil
}

// runAll runs every command and reports all failures together.
func (s *Impl) runAll(ctx context.Context, cmds ...models.Command) error {
	var errs *multierror.Error
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return multierror.Append(errs, ctx.Err()).ErrorOrNil()
		}
		if result := s.commands.Run(ctx, cmd); !result.Success() {
			errs = multierror.Append(errs, commandError(result))
		}
	}
	return errs.ErrorOrNil()
}

func commandError(result models.CommandResult) error {
	if (!result.Started || result.ExitCode < 0) && result.Error != nil {
		return fmt.Errorf("%s: %w", result.Command, result.Error)
	}
	return fmt.Errorf("%s: exit code %d", result.Command, result.ExitCode)
}

func checked(line string) models.Command {
	return models.Command{Line: line, Check: true}
}

func unchecked(line string) models.Command {
	return models.Command{Line: line}
}

// downloadPath places a downloaded package under dir using the URL's file name.
func downloadPath(dir, url string) string {
	return path.Join(dir, path.Base(url))
}

func quoteErr(s string) (string, error) {
	return syntax.Quote(s, syntax.LangBash)
}

// quote is for configuration values; anything unquotable collapses to ''.
func quote(s string) string {
	q, err := quoteErr(s)
	if err != nil {
		return "''"
	}
	return q
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return strings.Join(quoted, " ")
}
