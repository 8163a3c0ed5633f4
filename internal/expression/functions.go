package expression

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

type builtin func(e *Evaluator, ctx context.Context, args []string, fields models.Fields) (string, error)

var builtins = map[string]builtin{
	"FORMAT":         fnFormat,
	"TRIM":           fnTrim,
	"LEFT":           fnLeft,
	"RIGHT":          fnRight,
	"MID":            fnMid,
	"TOUPPER":        fnUpper,
	"TOLOWER":        fnLower,
	"LEN":            fnLen,
	"INDEXOF":        fnIndexOf,
	"FORMATDATE":     fnFormatDate,
	"AUTOINCREMENT":  fnAutoIncrement,
	"IF":             fnIf,
	"REGEXP.MATCH":   fnRegexpMatch,
	"REGEXP.REPLACE": fnRegexpReplace,
	"SCRIPT":         fnScript,
}

func (e *Evaluator) call(ctx context.Context, name string, args []string, fields models.Fields) string {
	out, err := builtins[name](e, ctx, args, fields)
	if err != nil {
		e.logger.Warn("Expression function failed.", "function", name, "args", args, "error", err)
		return ""
	}
	return out
}

func arity(args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return fmt.Errorf("expects %d arguments, got %d", min, len(args))
		}
		return fmt.Errorf("expects %d to %d arguments, got %d", min, max, len(args))
	}
	return nil
}

func intArg(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return n, nil
}

func optional(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

// fnFormat zero-pads value to the number of # (or 0) characters in the mask.
func fnFormat(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 2, 2); err != nil {
		return "", err
	}
	v, mask := args[0], args[1]
	width := strings.Count(mask, "#") + strings.Count(mask, "0")
	if width == 0 {
		return v, nil
	}
	return zfill(v, width), nil
}

func zfill(v string, width int) string {
	sign := ""
	if strings.HasPrefix(v, "-") || strings.HasPrefix(v, "+") {
		sign, v = v[:1], v[1:]
	}
	if n := width - len(sign) - utf8.RuneCountInString(v); n > 0 {
		v = strings.Repeat("0", n) + v
	}
	return sign + v
}

func fnTrim(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 1); err != nil {
		return "", err
	}
	return strings.TrimSpace(args[0]), nil
}

func fnLeft(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 2, 2); err != nil {
		return "", err
	}
	n, err := intArg(args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	return string(r[:clamp(n, 0, len(r))]), nil
}

func fnRight(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 2, 2); err != nil {
		return "", err
	}
	n, err := intArg(args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	return string(r[len(r)-clamp(n, 0, len(r)):]), nil
}

// fnMid takes a 1-based start and an optional length.
func fnMid(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 2, 3); err != nil {
		return "", err
	}
	start, err := intArg(args[1])
	if err != nil {
		return "", err
	}
	r := []rune(args[0])
	from := clamp(start-1, 0, len(r))
	to := len(r)
	if len(args) == 3 {
		n, err := intArg(args[2])
		if err != nil {
			return "", err
		}
		to = clamp(from+n, from, len(r))
	}
	return string(r[from:to]), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fnUpper(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 1); err != nil {
		return "", err
	}
	return strings.ToUpper(args[0]), nil
}

func fnLower(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 1); err != nil {
		return "", err
	}
	return strings.ToLower(args[0]), nil
}

func fnLen(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 1); err != nil {
		return "", err
	}
	return strconv.Itoa(utf8.RuneCountInString(args[0])), nil
}

// fnIndexOf returns the 1-based position of find in s at or after the
// 0-based rune offset start, or 0 when absent.
func fnIndexOf(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 3, 4); err != nil {
		return "", err
	}
	start, err := intArg(args[0])
	if err != nil {
		return "", err
	}
	s, find := args[1], args[2]
	if !strings.EqualFold(optional(args, 3, "true"), "true") {
		s, find = strings.ToLower(s), strings.ToLower(find)
	}
	r := []rune(s)
	start = clamp(start, 0, len(r))
	idx := strings.Index(string(r[start:]), find)
	if idx < 0 {
		return "0", nil
	}
	return strconv.Itoa(start + utf8.RuneCountInString(string(r[start:])[:idx]) + 1), nil
}

func fnAutoIncrement(e *Evaluator, ctx context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 1, 3); err != nil {
		return "", err
	}
	start, err := strconv.ParseInt(strings.TrimSpace(optional(args, 1, "1")), 10, 64)
	if err != nil {
		start = 1
	}
	step, err := strconv.ParseInt(strings.TrimSpace(optional(args, 2, "1")), 10, 64)
	if err != nil {
		step = 1
	}
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "", fmt.Errorf("counter name must not be empty")
	}
	if e.counters != nil {
		v, err := e.counters.NextValue(ctx, name, start, step)
		if err != nil {
			return "", fmt.Errorf("counter %s: %w", name, err)
		}
		return strconv.FormatInt(v, 10), nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.local[name]
	if !ok {
		v = start
	}
	e.local[name] = v + step
	return strconv.FormatInt(v, 10), nil
}

// fnIf compares numerically when both operands are numbers.
func fnIf(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 5, 6); err != nil {
		return "", err
	}
	a, op, b := args[0], strings.TrimSpace(args[1]), args[2]
	if !strings.EqualFold(optional(args, 5, "true"), "true") {
		a, b = strings.ToLower(a), strings.ToLower(b)
	}
	ok, err := compare(a, op, b)
	if err != nil {
		return "", err
	}
	if ok {
		return args[3], nil
	}
	return args[4], nil
}

func compare(a, op, b string) (bool, error) {
	fa, errA := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(a), ",", "."), 64)
	fb, errB := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(b), ",", "."), 64)
	numeric := errA == nil && errB == nil
	switch op {
	case "==", "=":
		return a == b, nil
	case "!=", "<>":
		return a != b, nil
	case ">":
		if numeric {
			return fa > fb, nil
		}
		return a > b, nil
	case "<":
		if numeric {
			return fa < fb, nil
		}
		return a < b, nil
	case ">=":
		if numeric {
			return fa >= fb, nil
		}
		return a >= b, nil
	case "<=":
		if numeric {
			return fa <= fb, nil
		}
		return a <= b, nil
	case "contains":
		return strings.Contains(a, b), nil
	case "startswith":
		return strings.HasPrefix(a, b), nil
	case "endswith":
		return strings.HasSuffix(a, b), nil
	case "isempty":
		return strings.TrimSpace(a) == "", nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// fnRegexpMatch returns the first match, or its submatch at index group.
func fnRegexpMatch(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 2, 3); err != nil {
		return "", err
	}
	re, err := regexp.Compile(args[1])
	if err != nil {
		return "", err
	}
	group, err := intArg(optional(args, 2, "0"))
	if err != nil {
		return "", err
	}
	m := re.FindStringSubmatch(args[0])
	if m == nil || group < 0 || group >= len(m) {
		return "", nil
	}
	return m[group], nil
}

func fnRegexpReplace(_ *Evaluator, _ context.Context, args []string, _ models.Fields) (string, error) {
	if err := arity(args, 3, 3); err != nil {
		return "", err
	}
	re, err := regexp.Compile(args[1])
	if err != nil {
		return "", err
	}
	return re.ReplaceAllString(args[0], args[2]), nil
}
