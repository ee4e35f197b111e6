package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// RuleViolation is one rule that failed against a target.
type RuleViolation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Description string   `json:"description,omitempty"`
	Matched     []string `json:"matched,omitempty"`
	// Error is set when the rule could not be evaluated, e.g. an invalid expression.
	Error string `json:"error,omitempty"`
}

// evaluateInvariant reports whether rule's expression is falsy for data.
func evaluateInvariant(rule *model.ProjectRule, data any) (bool, error) {
	expr := strings.TrimSpace(rule.Expression)
	if expr == "" {
		return false, fmt.Errorf("rule %s has no expression", rule.ID)
	}
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
	}
	return !truthy(v), nil
}

// truthy follows JMESPath: false, null, "" and empty arrays or objects are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// toJMESData converts v to the generic JSON shape the evaluator walks.
func toJMESData(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// watchlistMatches returns the rule terms found in text as whole words, case-insensitively.
func watchlistMatches(rule *model.ProjectRule, text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	seen := make(map[string]bool, len(rule.Terms))
	for _, term := range rule.Terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if containsWord(lower, t) {
			hits = append(hits, strings.TrimSpace(term))
		}
	}
	return hits
}

func containsWord(text, term string) bool {
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
