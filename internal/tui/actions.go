package tui

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fruitsalade/sdbrowser/pkg/client"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// uploadFile sends a local file into folder, reporting whole-percent
// progress through notify.
func uploadFile(ctx context.Context, files Actions, folder, local string, notify func(tea.Msg)) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", local)
	}

	name := filepath.Base(local)
	var progress client.ProgressFunc
	if notify != nil {
		last := -1
		progress = func(sent, total int64) {
			pct := 100
			if total > 0 {
				pct = int(sent * 100 / total)
			}
			if pct != last {
				last = pct
				notify(StatusMsg(fmt.Sprintf("Uploading %s... %d%%", name, pct)))
			}
		}
	}

	if err := files.Upload(ctx, folder, name, f, info.Size(), progress); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return fmt.Sprintf("Uploaded %s to %s", name, folder), nil
}

// downloadFile saves the card file p into dir under its own name.
func downloadFile(ctx context.Context, files Actions, p, dir string) (string, error) {
	name := path.Base(p)
	dst := filepath.Join(dir, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	n, err := files.Download(ctx, p, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	return fmt.Sprintf("Downloaded %s (%s) to %s", name, tree.HumanSize(n), dst), nil
}
