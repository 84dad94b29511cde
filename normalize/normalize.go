// Package normalize repairs markdown produced by token-by-token generation.
//
// Normalize works on the whole accumulated text, never on a single delta,
// so it can be called on every prefix of a reply while it streams. Its
// output is a fixed point: normalizing it again returns it unchanged.
package normalize

import (
	"log/slog"
	"regexp"
	"strings"
)

// maxPasses bounds the fixed-point loop. Real input settles in two or three.
const maxPasses = 8

type Policy struct {
	// MinHeading and MaxHeading clamp heading levels.
	MinHeading  int
	MaxHeading  int
	Disclaimers []string
}

func DefaultPolicy() Policy {
	return Policy{
		MinHeading:  2,
		MaxHeading:  4,
		Disclaimers: []string{"以上内容仅供参考"},
	}
}

type rule struct {
	name string
	fn   func(string) string
}

type Normalizer struct {
	policy      Policy
	disclaimers []*regexp.Regexp
	prose       []rule
}

func New(policy Policy) *Normalizer {
	if policy.MinHeading < 1 {
		policy.MinHeading = 1
	}
	if policy.MaxHeading > 6 || policy.MaxHeading < 1 {
		policy.MaxHeading = 6
	}
	if policy.MaxHeading < policy.MinHeading {
		policy.MaxHeading = policy.MinHeading
	}

	n := &Normalizer{policy: policy}
	for _, phrase := range policy.Disclaimers {
		if re := disclaimerPattern(phrase); re != nil {
			n.disclaimers = append(n.disclaimers, re)
		}
	}

	n.prose = []rule{
		{"emphasis", collapseEmphasis},
		{"headings", n.canonicalizeHeadings},
		{"lists", canonicalizeLists},
		{"cjk-spacing", repairCJKSpacing},
		{"disclaimer", n.isolateDisclaimers},
	}
	return n
}

func (n *Normalizer) Policy() Policy {
	return n.policy
}

var defaultNormalizer = New(DefaultPolicy())

// Normalize cleans raw with the default policy.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

func (n *Normalizer) Normalize(raw string) string {
	out := raw
	for i := 0; i < maxPasses; i++ {
		next := n.pass(out)
		if next == out {
			return out
		}
		out = next
	}
	slog.Debug("normalize: no fixed point", "passes", maxPasses, "length", len(raw))
	return out
}

func (n *Normalizer) pass(s string) string {
	s = guard("invisible", stripInvisible, s)

	segments := splitFences(s)
	for i := range segments {
		if segments[i].fenced {
			continue
		}
		text := segments[i].text
		for _, r := range n.prose {
			text = guard(r.name, r.fn, text)
		}
		segments[i].text = text
	}

	return guard("tidy", tidy, joinSegments(segments))
}

// guard runs fn and falls back to its input if fn panics.
func guard(name string, fn func(string) string, in string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("normalize: rule failed", "rule", name, "panic", r)
			out = in
		}
	}()
	return fn(in)
}

type segment struct {
	text   string
	fenced bool
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "```")
}

// splitFences separates ``` code blocks from prose. An unterminated fence
// runs to the end of the text.
func splitFences(s string) []segment {
	var (
		segments []segment
		current  []string
		inFence  bool
	)
	flush := func(fenced bool) {
		if len(current) > 0 {
			segments = append(segments, segment{text: strings.Join(current, "\n"), fenced: fenced})
			current = nil
		}
	}

	for _, line := range strings.Split(s, "\n") {
		switch {
		case !inFence && isFenceLine(line):
			flush(false)
			current = append(current, line)
			inFence = true
		case inFence && isFenceLine(line):
			current = append(current, line)
			flush(true)
			inFence = false
		default:
			current = append(current, line)
		}
	}
	flush(inFence)
	return segments
}

func joinSegments(segments []segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.text
	}
	return strings.Join(parts, "\n")
}
