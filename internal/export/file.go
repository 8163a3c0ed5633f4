package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// FileTransport writes exports into a local or mounted directory. Existing
// files are never overwritten; a _1, _2, ... suffix is added instead. With
// params.write_sidecar set, the pair's sidecar is written next to the
// document under the same base name.
type FileTransport struct{}

func (FileTransport) Method() models.ExportMethod { return models.MethodFile }

func (FileTransport) Deliver(ctx context.Context, d *Delivery) (string, error) {
	if d.Dir == "" {
		return "", permanent{fmt.Errorf("file export has no destination path")}
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create destination %s: %w", d.Dir, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := placeFile(d.Source, d.Dir, d.Name)
	if err != nil {
		return "", err
	}
	if d.Sidecar != "" && d.Config.Params.Get("write_sidecar", "false") == "true" {
		name := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target)) + filepath.Ext(d.Sidecar)
		if _, err := placeFile(d.Sidecar, d.Dir, name); err != nil {
			return target, fmt.Errorf("write sidecar: %w", err)
		}
	}
	return target, nil
}

// placeFile copies src into dir under the first free variant of name. The
// copy is written to a hidden temporary file and renamed into place, so a
// reader of dir never sees a partial file.
func placeFile(src, dir, name string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := copyInto(tmp, src); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	for n := 0; n < maxNumbered; n++ {
		target := filepath.Join(dir, numbered(name, n))
		if _, err := os.Lstat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", target, err)
		}
		if err := os.Rename(tmp.Name(), target); err != nil {
			return "", fmt.Errorf("move into %s: %w", target, err)
		}
		return target, nil
	}
	return "", permanent{fmt.Errorf("no free name for %s in %s", name, dir)}
}

func copyInto(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	if _, err := io.Copy(dst, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return dst.Sync()
}
