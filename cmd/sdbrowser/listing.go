package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/render"
	"github.com/fruitsalade/sdbrowser/internal/snapshot"
	"github.com/fruitsalade/sdbrowser/internal/tui"
	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   string(render.FormatTree),
			Usage:   "Output format: tree, json, yaml",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colored output",
		},
	}
}

func browseCommand() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse the card interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "download-dir",
				Value: ".",
				Usage: "Directory receiving downloaded files",
			},
		},
		Action: browseAction,
	}
}

func browseAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, done, err := start(c, cfg, true)
	if err != nil {
		return err
	}
	defer done()

	files := client.NewFileClient(cfg.FileConfig())
	return tui.Run(ctx, cfg.SessionConfig(), files, c.String("download-dir"))
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print the card listing once and exit",
		Flags: append(outputFlags(),
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Second,
				Usage: "Give up when no listing arrives within this time",
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, done, err := start(c, cfg, false)
	if err != nil {
		return err
	}
	defer done()

	timeout := c.Duration("timeout")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t, err := client.ListOnce(ctx, cfg.SessionConfig(), func(s string) {
		logging.Debug("status", zap.String("message", s))
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return cli.Exit(fmt.Sprintf("no listing received from %s within %s", cfg.Server.URL, timeout), 1)
	}
	if err != nil {
		return err
	}
	return render.NewRenderer(format, c.Bool("no-color"), c.App.Writer).Render(t)
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stay connected and report every listing the card pushes",
		Flags: append(outputFlags(),
			&cli.StringFlag{
				Name:  "archive",
				Usage: "Archive every listing to a directory or s3://bucket/prefix",
			},
			&cli.DurationFlag{
				Name:  "refresh",
				Usage: "Request a new listing at this interval (0 = only on connect)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Log listings without printing them",
			},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("archive") {
		cfg.Archive.Target = c.String("archive")
	}
	ctx, done, err := start(c, cfg, false)
	if err != nil {
		return err
	}
	defer done()

	var store snapshot.Store
	if cfg.Archive.Target != "" {
		store, err = snapshot.Open(ctx, cfg.Archive.Target, snapshot.Options{
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
	}

	// Trees are handled here rather than on the socket goroutine so a slow
	// archive never stalls reading.
	trees := make(chan *models.Tree, 8)
	sessCfg := cfg.SessionConfig()
	sessCfg.ListOnConnect = true
	sess, err := client.NewSession(sessCfg,
		func(t *models.Tree) {
			select {
			case trees <- t:
			default:
				logging.Warn("dropping listing, consumer is behind")
			}
		},
		func(s string) { logging.Info(s) },
	)
	if err != nil {
		return err
	}
	logging.Info("watching", zap.String("url", sess.URL()), zap.String("archive", cfg.Archive.Target))

	var out *render.Renderer
	if !c.Bool("quiet") {
		out = render.NewRenderer(format, c.Bool("no-color"), c.App.Writer)
	}

	sessErr := make(chan error, 1)
	go func() { sessErr <- sess.Run(ctx) }()

	var tick <-chan time.Time
	if d := c.Duration("refresh"); d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case t := <-trees:
			if err := handleListing(ctx, t, out, store); err != nil {
				return err
			}
		case <-tick:
			if err := sess.RequestListing(); err != nil {
				logging.Debug("refresh skipped", zap.Error(err))
			}
		case err := <-sessErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func handleListing(ctx context.Context, t *models.Tree, out *render.Renderer, store snapshot.Store) error {
	st := tree.Summarize(t)
	logging.Info("listing decoded",
		zap.Int("files", st.Files),
		zap.Int("folders", st.Dirs),
		zap.String("size", tree.HumanSize(st.TotalSize)))

	if out != nil {
		if err := out.Render(t); err != nil {
			return err
		}
	}
	if store != nil {
		loc, err := store.Put(ctx, time.Now(), t)
		if err != nil {
			logging.Error("archive failed", zap.Error(err))
			return nil
		}
		logging.Info("listing archived", zap.String("location", loc))
	}
	return nil
}
