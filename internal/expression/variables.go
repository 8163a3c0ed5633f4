package expression

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// StandardVariables are the date and time fields available to every
// expression.
func StandardVariables(now time.Time) models.Fields {
	_, week := now.ISOWeek()
	return models.Fields{
		"Date":         now.Format("2006-01-02"),
		"DateDE":       now.Format("02.01.2006"),
		"Time":         now.Format("15-04-05"),
		"TimeColon":    now.Format("15:04:05"),
		"DateTime":     now.Format("2006-01-02_15-04-05"),
		"DateTimeDE":   now.Format("02.01.2006 15:04:05"),
		"Year":         now.Format("2006"),
		"Month":        now.Format("01"),
		"MonthName":    now.Month().String(),
		"Day":          now.Format("02"),
		"Hour":         now.Format("15"),
		"Minute":       now.Format("04"),
		"Second":       now.Format("05"),
		"Weekday":      now.Weekday().String(),
		"WeekdayShort": now.Weekday().String()[:3],
		"WeekNumber":   fmt.Sprintf("%02d", week),
		"Timestamp":    strconv.FormatInt(now.Unix(), 10),
	}
}

// FileVariables describe the original primary file.
func FileVariables(path string) models.Fields {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	f := models.Fields{
		"FileName":      strings.TrimSuffix(name, ext),
		"FileExtension": ext,
		"FullFileName":  name,
		"FilePath":      filepath.Dir(path),
		"FullPath":      path,
		"FileSize":      "0",
		"FileSizeMB":    "0.00",
	}
	if info, err := os.Stat(path); err == nil {
		f["FileSize"] = strconv.FormatInt(info.Size(), 10)
		f["FileSizeMB"] = fmt.Sprintf("%.2f", float64(info.Size())/(1024*1024))
	}
	return f
}

// LevelVariables expose the folder structure below the input folder:
// level0 is the input folder's name, level1..level5 the sub-folders leading
// to the file.
func LevelVariables(path, inputPath string) models.Fields {
	f := models.Fields{"level0": filepath.Base(filepath.Clean(inputPath))}
	for i := 1; i <= 5; i++ {
		f["level"+strconv.Itoa(i)] = ""
	}
	rel, err := filepath.Rel(inputPath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return f
	}
	parts := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
	for i, p := range parts {
		if p == "." || i >= 5 {
			break
		}
		f["level"+strconv.Itoa(i+1)] = p
	}
	return f
}
