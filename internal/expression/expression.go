// Package expression resolves export expressions: literal text with <Field>
// placeholders and nested function calls such as FORMAT(<No>, "######").
package expression

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// Counters persists AUTOINCREMENT state. NextValue returns the current value
// of the named counter and advances it by step, creating it at start.
type Counters interface {
	NextValue(ctx context.Context, name string, start, step int64) (int64, error)
}

var placeholder = regexp.MustCompile(`<([^<>]+)>`)

// Substitute replaces every <Name> whose field exists. Unknown placeholders
// are left as literal text.
func Substitute(text string, fields models.Fields) string {
	if !strings.Contains(text, "<") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := fields[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Placeholders lists the field names referenced by text, in order.
func Placeholders(text string) []string {
	var out []string
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

const maxDepth = 32

// Evaluator evaluates expressions. It is safe for concurrent use.
type Evaluator struct {
	counters      Counters
	logger        *slog.Logger
	now           func() time.Time
	scriptTimeout time.Duration

	mu    sync.Mutex
	local map[string]int64
}

// New returns an Evaluator. counters may be nil, in which case
// AUTOINCREMENT counts in memory for the lifetime of the process.
func New(counters Counters, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		counters:      counters,
		logger:        logger,
		now:           time.Now,
		scriptTimeout: 2 * time.Second,
		local:         make(map[string]int64),
	}
}

// WithClock replaces the time source used by FORMATDATE.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate resolves expr against fields. Functions are evaluated inside
// out; a failing function contributes an empty string and is logged.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, fields models.Fields) string {
	return e.eval(ctx, expr, fields, 0)
}

// EvaluateBool resolves expr and reports whether the result reads as true.
func (e *Evaluator) EvaluateBool(ctx context.Context, expr string, fields models.Fields) bool {
	switch strings.ToLower(strings.TrimSpace(e.Evaluate(ctx, expr, fields))) {
	case "true", "1", "yes", "ja":
		return true
	}
	return false
}

func (e *Evaluator) eval(ctx context.Context, expr string, fields models.Fields, depth int) string {
	if depth > maxDepth {
		return Substitute(expr, fields)
	}
	var out strings.Builder
	literal := 0
	for i := 0; i < len(expr); {
		name, open, ok := functionAt(expr, i)
		if !ok {
			i++
			continue
		}
		end := matchParen(expr, open)
		if end < 0 {
			i++
			continue
		}
		out.WriteString(Substitute(expr[literal:i], fields))
		raw := splitArgs(expr[open+1 : end])
		args := make([]string, len(raw))
		for j, a := range raw {
			args[j] = e.arg(ctx, a, fields, depth)
		}
		out.WriteString(e.call(ctx, name, args, fields))
		i = end + 1
		literal = i
	}
	out.WriteString(Substitute(expr[literal:], fields))
	return out.String()
}

// arg evaluates one argument. Quoted arguments only get placeholder
// substitution, so quotes protect literal commas and parentheses.
func (e *Evaluator) arg(ctx context.Context, a string, fields models.Fields, depth int) string {
	if len(a) >= 2 && (a[0] == '"' || a[0] == '\'') && a[len(a)-1] == a[0] {
		return Substitute(a[1:len(a)-1], fields)
	}
	return e.eval(ctx, a, fields, depth+1)
}

var functionNames = func() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	// Longest first so FORMATDATE wins over FORMAT.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// functionAt reports a known function call starting at i and the index of
// its opening parenthesis.
func functionAt(s string, i int) (string, int, bool) {
	c := s[i]
	if c < 'A' || c > 'Z' {
		return "", 0, false
	}
	if i > 0 && isIdent(s[i-1]) {
		return "", 0, false
	}
	for _, name := range functionNames {
		if !strings.HasPrefix(s[i:], name) {
			continue
		}
		j := i + len(name)
		for j < len(s) && s[j] == ' ' {
			j++
		}
		if j < len(s) && s[j] == '(' {
			return name, j, true
		}
	}
	return "", 0, false
}

func isIdent(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// matchParen returns the index of the parenthesis closing the one at open,
// or -1 when unbalanced. Quoted text is skipped.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits on top-level commas.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var args []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}
