package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

type triggerKind int

const (
	triggerAlways triggerKind = iota
	triggerStartsWith
	triggerPattern
)

// Trigger decides whether a plugin reacts to a message's raw text.
// The zero value matches everything.
type Trigger struct {
	kind   triggerKind
	prefix string
	re     *regexp.Regexp
}

// Always matches every message.
func Always() Trigger {
	return Trigger{kind: triggerAlways}
}

// StartsWith matches messages whose raw text begins with prefix.
func StartsWith(prefix string) Trigger {
	return Trigger{kind: triggerStartsWith, prefix: prefix}
}

// Pattern matches messages whose raw text matches the regular expression.
func Pattern(expr string) (Trigger, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("compile trigger pattern: %w", err)
	}
	return Trigger{kind: triggerPattern, re: re}, nil
}

// MustPattern is like Pattern but panics on an invalid expression.
func MustPattern(expr string) Trigger {
	t, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return t
}

// Match reports whether text satisfies the trigger.
func (t Trigger) Match(text string) bool {
	switch t.kind {
	case triggerStartsWith:
		return strings.HasPrefix(text, t.prefix)
	case triggerPattern:
		return t.re.MatchString(text)
	default:
		return true
	}
}

func (t Trigger) String() string {
	switch t.kind {
	case triggerStartsWith:
		return fmt.Sprintf("starts_with(%q)", t.prefix)
	case triggerPattern:
		return fmt.Sprintf("pattern(%q)", t.re.String())
	default:
		return "always"
	}
}
