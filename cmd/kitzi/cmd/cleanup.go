package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bennybar/kitzi/internal/mediaserver/abs"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove local files for items deleted on the server",
	Long: "Check every locally known item against the server and delete the local files of items " +
		"the server reports missing. Items that cannot be checked (server offline, errors) are kept. " +
		"Interrupt with Ctrl-C to stop after the current item.",
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	if !cfg.IsConfigured() {
		return errors.New("server.url and server.token must be configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := abs.NewClient(cfg.Server.URL, cfg.Server.Token, logger).Ping(ctx)
	if err != nil {
		return fmt.Errorf("server check failed, nothing was deleted: %w", err)
	}
	logger.Info("starting cleanup", "server", cfg.Server.URL, "serverVersion", status.ServerVersion)

	mgr, closeAll, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	out := cmd.OutOrStdout()
	report := newProgressReporter(out)

	result, err := mgr.CleanupDeletedAndBrokenBooks(
		// Deletions already started finish even after an interrupt
		context.WithoutCancel(ctx),
		report.update,
		func() bool { return ctx.Err() == nil },
	)
	report.done()
	if err != nil {
		return err
	}

	summary := successStyle.Render("✓ cleanup finished")
	if result.Canceled {
		summary = accentStyle.Render("■ cleanup stopped")
	}
	fmt.Fprintf(out, "%s: checked %d, removed %d, skipped %d\n",
		summary, result.Checked, result.Cleaned, result.Skipped)
	if result.Skipped > 0 {
		fmt.Fprintln(out, dimStyle.Render("Skipped items could not be verified and were kept; run cleanup again later."))
	}
	return nil
}

// progressReporter renders sweep progress as a bar on terminals and as
// plain lines otherwise.
type progressReporter struct {
	out   io.Writer
	bar   progress.Model
	live  bool
	drawn bool
}

func newProgressReporter(out io.Writer) *progressReporter {
	live := false
	if f, ok := out.(*os.File); ok {
		live = term.IsTerminal(int(f.Fd()))
	}
	return &progressReporter{
		out:  out,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		live: live,
	}
}

func (p *progressReporter) update(checked, total int, title string) {
	if total == 0 {
		return
	}
	if !p.live {
		fmt.Fprintf(p.out, "[%d/%d] %s\n", checked, total, title)
		return
	}
	pct := float64(checked) / float64(total)
	fmt.Fprintf(p.out, "\r\033[K%s %d/%d %s", p.bar.ViewAs(pct), checked, total, dimStyle.Render(truncate(title, 40)))
	p.drawn = true
}

func (p *progressReporter) done() {
	if p.drawn {
		fmt.Fprintln(p.out)
	}
}
