package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/devserver"
	"github.com/fruitsalade/sdbrowser/internal/logging"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a local directory the way the card firmware does",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "root",
				Usage: "Directory standing in for the SD card (created when missing)",
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "File routes listen address",
			},
			&cli.IntFlag{
				Name:  "socket-port",
				Usage: "Listing socket port",
			},
			&cli.StringFlag{
				Name:  "framing",
				Usage: "Listing framing: fragments, chunks",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Bytes per message with chunks framing",
			},
			&cli.IntFlag{
				Name:  "drop-braces",
				Usage: "Drop this many closing braces from every listing",
			},
			&cli.DurationFlag{
				Name:  "watch",
				Usage: "Push a listing to clients when the card changes, polling at this interval",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("root") {
		cfg.Dev.Root = c.String("root")
	}
	if c.IsSet("http-addr") {
		cfg.Dev.HTTPAddr = c.String("http-addr")
	}
	if c.IsSet("socket-port") {
		cfg.Dev.WSPort = c.Int("socket-port")
	}
	if c.IsSet("framing") {
		cfg.Dev.Framing = c.String("framing")
	}
	if c.IsSet("chunk-size") {
		cfg.Dev.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("drop-braces") {
		cfg.Dev.DropBraces = c.Int("drop-braces")
	}
	if c.IsSet("watch") {
		cfg.Dev.Watch.Duration = c.Duration("watch")
	}

	ctx, done, err := start(c, cfg, false)
	if err != nil {
		return err
	}
	defer done()

	framing, err := devserver.ParseFraming(cfg.Dev.Framing)
	if err != nil {
		return err
	}
	if err := devserver.EnsureCard(cfg.Dev.Root); err != nil {
		return err
	}
	card, err := devserver.NewCard(cfg.Dev.Root)
	if err != nil {
		return err
	}

	wsAddr := fmt.Sprintf(":%d", cfg.Dev.WSPort)
	logging.Info("serving card",
		zap.String("root", card.Root()),
		zap.String("http", cfg.Dev.HTTPAddr),
		zap.String("ws", wsAddr),
		zap.String("framing", string(framing)))

	srv := devserver.New(card, devserver.Options{
		Framing:    framing,
		ChunkSize:  cfg.Dev.ChunkSize,
		DropBraces: cfg.Dev.DropBraces,
		Watch:      cfg.Dev.Watch.Duration,
	})
	return srv.Run(ctx, cfg.Dev.HTTPAddr, wsAddr)
}
