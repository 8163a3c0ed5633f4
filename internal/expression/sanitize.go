package expression

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 200

// SanitizeFilename makes a resolved name safe as a single path element.
// Separators and control characters become underscores; angle brackets of
// unresolved placeholders are kept so the gap stays visible.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '|' || r == '?' || r == '*' || r == '"':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	if name == "" {
		return "export"
	}
	return name
}

// SanitizePath sanitizes every element of a resolved directory path while
// keeping its separators and root.
func SanitizePath(p string) string {
	if p == "" {
		return p
	}
	p = filepath.FromSlash(p)
	root := ""
	if filepath.IsAbs(p) {
		root = string(filepath.Separator)
	}
	parts := strings.Split(strings.Trim(p, string(filepath.Separator)), string(filepath.Separator))
	for i, part := range parts {
		if part == "" || part == "." || part == ".." {
			parts[i] = "_"
			continue
		}
		parts[i] = SanitizeFilename(part)
	}
	return root + filepath.Join(parts...)
}
