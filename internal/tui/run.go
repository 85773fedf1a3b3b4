package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/models"
)

// Run opens a listing session and browses it until the user quits or ctx
// ends. Every decoded tree and status line is forwarded to the program.
func Run(ctx context.Context, cfg client.SessionConfig, files Actions, downloadDir string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	cfg.ListOnConnect = true
	sess, err := client.NewSession(cfg,
		func(t *models.Tree) { p.Send(TreeMsg{Tree: t}) },
		func(s string) { p.Send(StatusMsg(s)) },
	)
	if err != nil {
		return err
	}

	m := NewModel(ctx, Options{
		URL:         sess.URL(),
		Files:       files,
		Refresh:     sess.RequestListing,
		DownloadDir: downloadDir,
		Notify:      func(msg tea.Msg) { p.Send(msg) },
	})
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	sessErr := make(chan error, 1)
	go func() { sessErr <- sess.Run(ctx) }()

	_, err = p.Run()
	cancel()
	if serr := <-sessErr; serr != nil && !errors.Is(serr, context.Canceled) {
		return serr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
