package translation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// StripRule removes boilerplate a model wraps around its translation.
type StripRule struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`
}

// DefaultStripRules covers preambles, fences, segment markers and trailing
// translator notes.
func DefaultStripRules() []StripRule {
	return []StripRule{
		{Name: "code-fence", Pattern: "(?m)^[ \\t]*```[\\w-]*[ \\t]*$"},
		{Name: "english-preamble", Pattern: `(?i)\A\s*(?:sure[,.!]?\s*)?(?:here(?:'s| is| are)\s+(?:the\s+|your\s+)?translat\w*[^\n]*?|translation)\s*[:：][ \t]*\n?`},
		{Name: "chinese-preamble", Pattern: `\A\s*(?:以下是|下面是)[^\n]*?(?:翻译|译文)[^\n]*?[:：][ \t]*\n?`},
		{Name: "translator-note", Pattern: `(?i)\n\s*\n\s*[(（]?\s*(?:translator'?s?\s+)?(?:note|注|备注)\s*[:：][^\n]*?(?:translat|翻译|译)[^\n]*\z`},
		{Name: "bracket-marker", Pattern: `(?mi)^[ \t]*\[(?:segment\s*)?\d+\][ \t]*`},
		{Name: "segment-label", Pattern: `(?mi)^[ \t]*(?:segment|段落)\s*\d+\s*[:：][ \t]*`},
		{Name: "segment-tag", Pattern: `(?mi)[ \t]*</?seg(?:ment)?(?:\s[^>]*)?>[ \t]*`},
		{Name: "rule-line", Pattern: `(?m)^[ \t]*(?:-{3,}|={3,})[ \t]*$`},
	}
}

// LoadStripRules reads rules from a YAML or JSON file, chosen by extension.
func LoadStripRules(path string) ([]StripRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strip rules: %w", err)
	}

	var rules []StripRule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &rules)
	default:
		err = yaml.Unmarshal(data, &rules)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse strip rules %s: %w", path, err)
	}
	return rules, nil
}

type compiledRule struct {
	re      *regexp.Regexp
	replace string
}

// Reconciler maps a raw completion back onto the fragments of a batch.
type Reconciler struct {
	rules []compiledRule
}

var (
	doubleBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)
	crlf        = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// NewReconciler compiles rules in order. Nil rules uses DefaultStripRules.
func NewReconciler(rules []StripRule) (*Reconciler, error) {
	if rules == nil {
		rules = DefaultStripRules()
	}
	r := &Reconciler{}
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid strip rule %q: %w", rule.Name, err)
		}
		r.rules = append(r.rules, compiledRule{re: re, replace: rule.Replace})
	}
	return r, nil
}

// Clean applies the strip rules. If stripping leaves nothing, the trimmed
// raw text is returned instead.
func (r *Reconciler) Clean(raw string) string {
	raw = strings.TrimSpace(crlf.Replace(raw))
	text := raw
	for _, rule := range r.rules {
		text = rule.re.ReplaceAllString(text, rule.replace)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return raw
	}
	return text
}

// Split divides cleaned text into at most expected segments. A shorter result
// means the response did not carry enough segments.
func (r *Reconciler) Split(text string, expected int) []string {
	if expected <= 0 {
		return nil
	}

	double := nonEmpty(doubleBreak.Split(text, -1))
	if len(double) == expected {
		return double
	}
	single := nonEmpty(strings.Split(text, "\n"))
	if len(single) == expected {
		return single
	}

	chosen := double
	if distance(len(single), expected) < distance(len(double), expected) {
		chosen = single
	}
	if len(chosen) > expected {
		return mergeSegments(chosen, expected)
	}
	return chosen
}

// Reconcile cleans raw and splits it for a batch of expected fragments.
func (r *Reconciler) Reconcile(raw string, expected int) []string {
	return r.Split(r.Clean(raw), expected)
}

// mergeSegments folds n > k segments into k consecutive runs of near-equal size.
func mergeSegments(segments []string, k int) []string {
	n := len(segments)
	out := make([]string, k)
	for i := 0; i < k; i++ {
		from, to := i*n/k, (i+1)*n/k
		out[i] = strings.Join(segments[from:to], "\n")
	}
	return out
}

func nonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
