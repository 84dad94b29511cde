package normalize

import (
	"strings"
	"unicode"
)

// isCJK reports ideographs and kana/hangul letters. Punctuation is not CJK
// here even when it lives in a CJK block.
func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isCJKPunct(r rune) bool {
	switch {
	case r >= 0x3001 && r <= 0x303F:
		return true
	case r >= 0xFF01 && r <= 0xFF0F, r >= 0xFF1A && r <= 0xFF20,
		r >= 0xFF3B && r <= 0xFF40, r >= 0xFF5B && r <= 0xFF65:
		return true
	}
	return strings.ContainsRune("…·“”‘’", r)
}

// isClosingPunct reports punctuation that belongs to the text before it.
func isClosingPunct(r rune) bool {
	return strings.ContainsRune("，。、！？：；）」』】》〉〕．,.!?:;)]…”’", r)
}

func isTrailingPunct(r rune) bool {
	return isCJKPunct(r) || strings.ContainsRune(",.!?:;)]", r)
}

// lineAt returns the line of rs containing index i.
func lineAt(rs []rune, i int) string {
	start := i
	for start > 0 && rs[start-1] != '\n' {
		start--
	}
	end := i
	for end < len(rs) && rs[end] != '\n' {
		end++
	}
	return string(rs[start:end])
}

func isHeadingLine(line string) bool {
	_, _, ok := parseHeading(line)
	return ok
}

func startsNumberedItem(rs []rune) bool {
	end := 0
	for end < len(rs) && rs[end] != '\n' {
		end++
	}
	return numberedItem.MatchString(string(rs[:end]))
}

// repairCJKSpacing drops whitespace that token streaming left between CJK
// text, before punctuation, and inside numbers broken across a line.
func repairCJKSpacing(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(rs); {
		if !unicode.IsSpace(rs[i]) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		j := i
		for j < len(rs) && unicode.IsSpace(rs[j]) {
			j++
		}
		if i > 0 && j < len(rs) && dropWhitespace(rs, i, j) {
			i = j
			continue
		}
		b.WriteString(string(rs[i:j]))
		i = j
	}
	return b.String()
}

func dropWhitespace(rs []rune, i, j int) bool {
	prev, next := rs[i-1], rs[j]
	ws := string(rs[i:j])
	multiline := strings.Contains(ws, "\n")
	// A heading keeps its paragraph break.
	afterHeading := multiline && isHeadingLine(lineAt(rs, i-1))

	switch {
	case isCJK(prev) && isCJK(next):
		return !afterHeading
	case isCJK(prev) && isTrailingPunct(next):
		if !multiline {
			return true
		}
		return isClosingPunct(next) && !afterHeading
	case isCJKPunct(prev) && isCJK(next):
		return !multiline
	case isDigit(prev) && isDigit(next):
		return ws == "\n" && !afterHeading && !startsNumberedItem(rs[j:])
	}
	return false
}
