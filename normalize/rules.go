package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/honganh1206/streamchat/fold"
	"golang.org/x/text/width"
)

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

func stripInvisible(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Map(func(r rune) rune {
		if isInvisible(r) {
			return -1
		}
		return r
	}, s)
}

// narrow maps full-width forms such as ＃ and ３ to their ASCII counterpart.
func narrow(r rune) rune {
	p := width.LookupRune(r)
	if p.Kind() != width.EastAsianFullwidth {
		return r
	}
	if n := p.Narrow(); n != 0 {
		return n
	}
	return r
}

func narrowString(s string) string {
	return strings.Map(narrow, s)
}

var (
	starRun        = regexp.MustCompile(`\*{2,}`)
	underscorePair = regexp.MustCompile(`__([^_\n]+?)__`)
)

func collapseEmphasis(s string) string {
	s = starRun.ReplaceAllString(s, "")
	s = underscorePair.ReplaceAllString(s, "$1")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = stripSingleStars(line)
	}
	return strings.Join(lines, "\n")
}

func isASCIIAlnum(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// stripSingleStars removes *span* pairs and stars left dangling next to CJK
// text. A leading "* " bullet is kept for the list rule.
func stripSingleStars(line string) string {
	rs := []rune(line)

	bullet := -1
	for i, r := range rs {
		if r == ' ' || r == '\t' {
			continue
		}
		if r == '*' && i+1 < len(rs) && (rs[i+1] == ' ' || rs[i+1] == '\t') {
			bullet = i
		}
		break
	}

	var stars []int
	for i, r := range rs {
		if r == '*' && i != bullet {
			stars = append(stars, i)
		}
	}
	if len(stars) == 0 {
		return line
	}

	drop := make(map[int]bool)
	for k := 0; k+1 < len(stars); {
		open, close := stars[k], stars[k+1]
		if validSpan(rs, open, close) {
			drop[open], drop[close] = true, true
			k += 2
			continue
		}
		k++
	}
	for _, idx := range stars {
		if drop[idx] {
			continue
		}
		if (idx > 0 && isCJK(rs[idx-1])) || (idx+1 < len(rs) && isCJK(rs[idx+1])) {
			drop[idx] = true
		}
	}

	var b strings.Builder
	for i, r := range rs {
		if !drop[i] {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validSpan(rs []rune, open, close int) bool {
	if close-open < 2 {
		return false
	}
	if unicode.IsSpace(rs[open+1]) || unicode.IsSpace(rs[close-1]) {
		return false
	}
	if open > 0 && isASCIIAlnum(rs[open-1]) {
		return false
	}
	if close+1 < len(rs) && isASCIIAlnum(rs[close+1]) {
		return false
	}
	return true
}

// parseHeading recognizes a line that starts with heading markers. A single
// marker glued to ASCII text (#tag, #12) is not a heading. Repeated marker
// groups collapse into the first one.
func parseHeading(line string) (level int, content string, ok bool) {
	t := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(t, "#") {
		return 0, "", false
	}
	rest := strings.TrimLeft(t, "#")
	level = len(t) - len(rest)
	if level == 1 && rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if r < utf8.RuneSelf && r != ' ' && r != '\t' {
			return 0, "", false
		}
	}
	for {
		trimmed := strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(trimmed, "#") {
			rest = trimmed
			break
		}
		rest = strings.TrimLeft(trimmed, "#")
	}
	return level, strings.TrimRight(rest, " \t"), true
}

var leadingMarkers = regexp.MustCompile(`^[ \t]*(?:#+[ \t]*)*`)

func blocksInlineHeading(r rune) bool {
	return isASCIIAlnum(r) || r == '&' || r == '/' || r == '#'
}

// cutInlineHeading finds a heading marker run in the middle of a line.
func cutInlineHeading(line string) (string, string, bool) {
	start := len(leadingMarkers.FindString(line))
	for i := start; i < len(line); i++ {
		if line[i] != '#' || i == 0 {
			continue
		}
		j := i
		for j < len(line) && line[j] == '#' {
			j++
		}
		prev, _ := utf8.DecodeLastRuneInString(line[:i])
		rest := line[j:]
		switch {
		case blocksInlineHeading(prev), j-i > 6:
		case j-i == 1 && !strings.HasPrefix(rest, " "):
		case strings.TrimSpace(rest) == "":
		case strings.TrimSpace(line[:i]) == "":
		default:
			return line[:i], line[i:], true
		}
		i = j - 1
	}
	return line, "", false
}

func (n *Normalizer) canonicalizeHeadings(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '＃' {
			return narrow(r)
		}
		return r
	}, s)

	var split []string
	for _, line := range strings.Split(s, "\n") {
		for {
			head, tail, ok := cutInlineHeading(line)
			if !ok {
				split = append(split, line)
				break
			}
			split = append(split, strings.TrimRight(head, " \t"), "")
			line = tail
		}
	}

	out := make([]string, 0, len(split))
	blankAfter := false
	for _, line := range split {
		level, content, ok := parseHeading(line)
		if !ok {
			if blankAfter && strings.TrimSpace(line) != "" {
				out = append(out, "")
			}
			blankAfter = false
			out = append(out, line)
			continue
		}

		level = min(max(level, n.policy.MinHeading), n.policy.MaxHeading)
		heading := strings.Repeat("#", level)
		if content != "" {
			heading += " " + content
		}
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, heading)
		blankAfter = true
	}
	return strings.Join(out, "\n")
}

func isSeparatorRune(r rune) bool {
	return fold.IsDash(r) || r == '_' || r == '=' || r == '*'
}

// isSeparatorLine reports lines made only of three or more separator runes,
// spaces aside.
func isSeparatorLine(line string) bool {
	count := 0
	for _, r := range line {
		switch {
		case r == ' ' || r == '\t':
		case isSeparatorRune(r):
			count++
		default:
			return false
		}
	}
	return count >= 3
}

var numberedItem = regexp.MustCompile(`^([ \t]*)([0-9０-９]+)[ \t]*([.．、)）])[ \t]*(.+)$`)

func isDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= '０' && r <= '９')
}

func startsWithASCIIAlnum(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return s != "" && isASCIIAlnum(r)
}

// dashRun returns the byte length of the dash-family prefix of s and whether
// every dash in it is an ASCII hyphen.
func dashRun(s string) (int, bool) {
	ascii := true
	for i, r := range s {
		if !fold.IsDash(r) {
			return i, ascii
		}
		if r != '-' {
			ascii = false
		}
	}
	return len(s), ascii
}

func canonicalizeBullet(line string) (string, bool) {
	body := strings.TrimLeft(line, " \t")
	indent := line[:len(line)-len(body)]

	var after string
	switch {
	case strings.HasPrefix(body, "* "), strings.HasPrefix(body, "*\t"):
		after = body[1:]
	default:
		n, ascii := dashRun(body)
		if n == 0 {
			return line, false
		}
		after = body[n:]
		// -5, -flag, --verbose
		if ascii && startsWithASCIIAlnum(after) {
			return line, false
		}
	}

	content := strings.TrimLeft(after, " \t")
	for {
		n, ascii := dashRun(content)
		if n == 0 || (ascii && startsWithASCIIAlnum(content[n:])) {
			break
		}
		content = strings.TrimLeft(content[n:], " \t")
	}
	if strings.TrimSpace(content) == "" {
		return line, false
	}
	return indent + "- " + content, true
}

func canonicalizeNumbered(line string) string {
	m := numberedItem.FindStringSubmatchIndex(line)
	if m == nil {
		return line
	}
	indent := line[m[2]:m[3]]
	digits := narrowString(line[m[4]:m[5]])
	sep := line[m[6]:m[7]]
	content := line[m[8]:m[9]]
	// 3.14 and 2024.10 are numbers, not items.
	if sep == "." && m[7] == m[8] && isDigit(firstRune(content)) {
		return line
	}
	return indent + digits + ". " + content
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func canonicalizeLists(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if isSeparatorLine(line) {
			continue
		}
		if bullet, ok := canonicalizeBullet(line); ok {
			out = append(out, bullet)
			continue
		}
		out = append(out, canonicalizeNumbered(line))
	}
	return strings.Join(out, "\n")
}

// disclaimerPattern matches phrase with any whitespace between its runes.
func disclaimerPattern(phrase string) *regexp.Regexp {
	phrase = strings.Join(strings.Fields(phrase), "")
	if phrase == "" {
		return nil
	}
	parts := make([]string, 0, utf8.RuneCountInString(phrase))
	for _, r := range phrase {
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile(strings.Join(parts, `\s*`))
}

func (n *Normalizer) isolateDisclaimers(s string) string {
	for _, re := range n.disclaimers {
		locs := re.FindAllStringIndex(s, -1)
		if locs == nil {
			continue
		}
		var out string
		last := 0
		for _, loc := range locs {
			out += s[last:loc[0]]
			out = strings.TrimRight(out, " \t\n")
			if out != "" {
				out += "\n\n"
			}
			out += strings.Join(strings.Fields(s[loc[0]:loc[1]]), "")
			last = loc[1]
		}
		s = out + s[last:]
	}
	return s
}

// tidy trims each line, collapses blank-line runs outside code fences and
// ends non-empty text with exactly one blank line.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if isFenceLine(line) {
			inFence = !inFence
		}
		if line == "" && !inFence {
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n\n"
}
