package expression

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// Date tokens, longest first. Lower-case m is month, upper-case M minute.
var dateTokens = []string{
	"yyyy", "mmmm", "dddd",
	"mmm", "ddd",
	"yy", "mm", "dd", "hh", "MM", "ss", "ww", "tt",
	"y", "m", "d", "h", "M", "s", "t",
}

// FormatDate renders t with the dd.mm.yyyy style mask used in expressions.
func FormatDate(t time.Time, mask string) string {
	var sb strings.Builder
	for i := 0; i < len(mask); {
		tok := ""
		for _, cand := range dateTokens {
			if strings.HasPrefix(mask[i:], cand) {
				tok = cand
				break
			}
		}
		if tok == "" {
			sb.WriteByte(mask[i])
			i++
			continue
		}
		sb.WriteString(dateToken(t, tok))
		i += len(tok)
	}
	return sb.String()
}

func dateToken(t time.Time, tok string) string {
	switch tok {
	case "yyyy":
		return strconv.Itoa(t.Year())
	case "yy":
		return fmt.Sprintf("%02d", t.Year()%100)
	case "y":
		return strconv.Itoa(t.Year() % 100)
	case "mmmm":
		return t.Month().String()
	case "mmm":
		return t.Month().String()[:3]
	case "mm":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "m":
		return strconv.Itoa(int(t.Month()))
	case "dddd":
		return t.Weekday().String()
	case "ddd":
		return t.Weekday().String()[:3]
	case "dd":
		return fmt.Sprintf("%02d", t.Day())
	case "d":
		return strconv.Itoa(t.Day())
	case "hh":
		return fmt.Sprintf("%02d", t.Hour())
	case "h":
		return strconv.Itoa(t.Hour())
	case "MM":
		return fmt.Sprintf("%02d", t.Minute())
	case "M":
		return strconv.Itoa(t.Minute())
	case "ss":
		return fmt.Sprintf("%02d", t.Second())
	case "s":
		return strconv.Itoa(t.Second())
	case "ww":
		_, w := t.ISOWeek()
		return fmt.Sprintf("%02d", w)
	case "tt":
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case "t":
		if t.Hour() < 12 {
			return "A"
		}
		return "P"
	}
	return tok
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"2.1.2006",
	"01/02/2006",
	"20060102",
}

// ParseDate accepts the common layouts found in sidecar files.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// fnFormatDate formats the current time, or the optional date argument.
func fnFormatDate(e *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 2); err != nil {
		return "", err
	}
	t := e.now()
	if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
		parsed, err := ParseDate(args[1])
		if err != nil {
			return "", err
		}
		t = parsed
	}
	return FormatDate(t, args[0]), nil
}
