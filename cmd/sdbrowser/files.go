package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// withFiles runs fn with a file client built from the configuration.
func withFiles(c *cli.Context, fn func(ctx context.Context, fc *client.FileClient) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, done, err := start(c, cfg, false)
	if err != nil {
		return err
	}
	defer done()
	return fn(ctx, client.NewFileClient(cfg.FileConfig()))
}

func usageError(c *cli.Context) error {
	return cli.Exit(fmt.Sprintf("usage: %s %s", c.Command.HelpName, c.Command.ArgsUsage), 2)
}

func rmCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a file",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError(c)
			}
			return withFiles(c, func(ctx context.Context, fc *client.FileClient) error {
				msg, err := fc.DeleteFile(ctx, c.Args().First())
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, msg)
				return nil
			})
		},
	}
}

func mkdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "Create a folder",
		ArgsUsage: "<path> | <parent> <name>",
		Action: func(c *cli.Context) error {
			var parent, name string
			switch c.NArg() {
			case 1:
				p := c.Args().First()
				parent, name = tree.ParentPath(p), path.Base(p)
			case 2:
				parent, name = c.Args().Get(0), c.Args().Get(1)
			default:
				return usageError(c)
			}
			return withFiles(c, func(ctx context.Context, fc *client.FileClient) error {
				msg, err := fc.CreateDirectory(ctx, parent, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, msg)
				return nil
			})
		},
	}
}

func rmdirCommand() *cli.Command {
	return &cli.Command{
		Name:      "rmdir",
		Usage:     "Remove an empty folder",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError(c)
			}
			return withFiles(c, func(ctx context.Context, fc *client.FileClient) error {
				msg, err := fc.RemoveDirectory(ctx, c.Args().First())
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, msg)
				return nil
			})
		},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a local file into a card folder",
		ArgsUsage: "<local file> [folder]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Name on the card (default: the local file name)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return usageError(c)
			}
			local := c.Args().Get(0)
			folder := tree.RootPrefix
			if c.NArg() == 2 {
				folder = c.Args().Get(1)
			}
			name := c.String("name")
			if name == "" {
				name = filepath.Base(local)
			}

			return withFiles(c, func(ctx context.Context, fc *client.FileClient) error {
				f, err := os.Open(local)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}

				var progress client.ProgressFunc
				if isStderrTTY() {
					progress = func(sent, total int64) {
						if total > 0 {
							fmt.Fprintf(os.Stderr, "\rUploading %s... %d%%", name, sent*100/total)
						}
					}
				}
				err = fc.Upload(ctx, folder, name, f, info.Size(), progress)
				if progress != nil {
					fmt.Fprintln(os.Stderr)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Uploaded %s to %s (%s)\n", name, folder, tree.HumanSize(info.Size()))
				return nil
			})
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a file; dest \"-\" writes to stdout",
		ArgsUsage: "<path> [dest]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return usageError(c)
			}
			src := c.Args().Get(0)
			dest := path.Base(src)
			if c.NArg() == 2 {
				dest = c.Args().Get(1)
			}

			return withFiles(c, func(ctx context.Context, fc *client.FileClient) error {
				if dest == "-" {
					_, err := fc.Download(ctx, src, c.App.Writer)
					return err
				}

				f, err := os.Create(dest)
				if err != nil {
					return err
				}
				n, err := fc.Download(ctx, src, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					os.Remove(dest)
					return err
				}
				fmt.Fprintf(c.App.Writer, "Downloaded %s to %s (%s)\n", src, dest, tree.HumanSize(n))
				return nil
			})
		},
	}
}
