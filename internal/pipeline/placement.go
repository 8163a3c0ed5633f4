package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// placeProcessed moves the pair into dir, or deletes it when dir is empty.
func placeProcessed(dir string, pair models.DocumentPair) error {
	var errs []error
	for _, p := range pairFiles(pair) {
		if dir == "" {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := moveInto(p, dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// placeError moves the pair into dir and writes <primary>.error.txt with
// the failure reason next to it.
func placeError(dir string, pair models.DocumentPair, rec *models.ProcessingRecord) error {
	primary, err := moveInto(pair.PrimaryPath, dir)
	if err != nil {
		return err
	}
	var errs []error
	if pair.HasSidecar() {
		if _, err := moveInto(pair.SidecarPath, dir); err != nil {
			errs = append(errs, err)
		}
	}
	report := fmt.Sprintf("file: %s\nhotfolder: %s\nrun: %s\ntime: %s\nkind: %s\nerror: %s\n",
		filepath.Base(pair.PrimaryPath), rec.HotfolderID, rec.RunID,
		rec.FinishedAt.Format(time.RFC3339), rec.ErrorKind, rec.ErrorDetails)
	for _, e := range rec.Exports {
		if !e.OK() {
			report += fmt.Sprintf("export %s (%s): %s\n", e.ExportID, e.Method, e.Error)
		}
	}
	if err := os.WriteFile(primary+".error.txt", []byte(report), 0o644); err != nil {
		errs = append(errs, fmt.Errorf("write error report: %w", err))
	}
	return errors.Join(errs...)
}

func pairFiles(pair models.DocumentPair) []string {
	if pair.HasSidecar() {
		return []string{pair.PrimaryPath, pair.SidecarPath}
	}
	return []string{pair.PrimaryPath}
}

// moveInto moves src into dir under the first free name, falling back to
// copy and delete across devices.
func moveInto(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	name := filepath.Base(src)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; n < 10000; n++ {
		target := filepath.Join(dir, name)
		if n > 0 {
			target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		}
		if _, err := os.Lstat(target); err == nil {
			continue
		}
		if err := os.Rename(src, target); err == nil {
			return target, nil
		}
		if err := copyFile(src, target); err != nil {
			os.Remove(target)
			return "", fmt.Errorf("move %s: %w", src, err)
		}
		if err := os.Remove(src); err != nil {
			return target, fmt.Errorf("remove %s after copy: %w", src, err)
		}
		return target, nil
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
