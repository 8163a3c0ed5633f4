package models

import (
	"strconv"
	"strings"
)

// SplitMode is the closed set of split rules.
type SplitMode string

const (
	SplitPerPage   SplitMode = "per_page"
	SplitEveryN    SplitMode = "pages"
	SplitSeparator SplitMode = "separator"
	SplitBlank     SplitMode = "blank"
)

// SplitRule is the parsed form of the split action's "rule" parameter:
// "per_page", "pages:N", "separator:TEXT" or "blank".
type SplitRule struct {
	Mode   SplitMode
	Pages  int
	Marker string
}

// ParseSplitRule defaults to one file per page.
func ParseSplitRule(s string) (SplitRule, error) {
	head, arg, hasArg := strings.Cut(strings.TrimSpace(s), ":")
	mode, err := ParseEnum("action_params.split.rule", head, SplitPerPage,
		SplitPerPage, SplitEveryN, SplitSeparator, SplitBlank)
	if err != nil {
		return SplitRule{}, err
	}
	rule := SplitRule{Mode: mode}
	switch mode {
	case SplitEveryN:
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if !hasArg || err != nil || n < 1 {
			return SplitRule{}, &ConfigValidationError{Field: "action_params.split.rule", Value: s, Reason: "pages rule needs a positive page count"}
		}
		rule.Pages = n
	case SplitSeparator:
		if strings.TrimSpace(arg) == "" {
			return SplitRule{}, &ConfigValidationError{Field: "action_params.split.rule", Value: s, Reason: "separator rule needs marker text"}
		}
		rule.Marker = strings.TrimSpace(arg)
	case SplitPerPage:
		rule.Pages = 1
	}
	return rule, nil
}

// NeedsText reports whether the rule inspects recognized page text.
func (r SplitRule) NeedsText() bool { return r.Mode == SplitSeparator }
