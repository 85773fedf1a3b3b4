// Package main provides the sdbrowser CLI: browse and manage the files on an
// SD-card web server that pushes its directory listing over a WebSocket.
//
// Usage:
//
//	sdbrowser [global options] <command> [options] [arguments]
//
// Settings come from sdbrowser.yaml (or --config), SDBROWSER_* environment
// variables and flags, later sources winning.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already reported the error.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "sdbrowser",
		Usage:          "Browse and manage files on an SD-card web server",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:          globalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			browseCommand(),
			listCommand(),
			watchCommand(),
			rmCommand(),
			mkdirCommand(),
			rmdirCommand(),
			uploadCommand(),
			downloadCommand(),
			serveCommand(),
			versionCommand(),
		},
	}
}

// exitErrHandler prints the error and exits, keeping cli.Exit codes.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "sdbrowser %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
