package fold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		name    string
		buffer  string
		payload string
		want    string
	}{
		{"verbatim append", "你好", "世界", "你好世界"},
		{"leading space kept", "hello", " world", "hello world"},
		{"whitespace packet kept", "a", "\n", "a\n"},
		{"empty payload", "abc", "", "abc"},
		{"heading after prose", "前言", "###", "前言\n\n### "},
		{"heading trims trailing space", "前言  \n", " ## ", "前言\n\n## "},
		{"heading on empty buffer", "", "#", "# "},
		{"full width heading", "段落", "＃＃", "段落\n\n## "},
		{"seven markers is text", "x", "#######", "x#######"},
		{"list after prose", "介绍", "-", "介绍\n- "},
		{"list after newline", "介绍\n", "—", "介绍\n- "},
		{"list on empty buffer", "", "- ", "- "},
		{"list trims spaces", "a  ", "‒", "a\n- "},
		{"separator dropped", "正文", "-----", "正文"},
		{"mixed separator dropped", "正文", "—–—", "正文"},
		{"two dashes are text", "a", "--", "a--"},
		{"dash with text is text", "a", "-b", "a-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fold(tt.buffer, tt.payload))
		})
	}
}

func TestFolder_ListToken(t *testing.T) {
	var f Folder
	f.Fold("- ")
	f.Fold("一、选项")
	assert.Equal(t, "- 一、选项", f.String())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, TokenHeading, Classify("######"))
	assert.Equal(t, TokenList, Classify(" － "))
	assert.Equal(t, TokenSeparator, Classify("-----"))
	assert.Equal(t, TokenEmpty, Classify(""))
	assert.Equal(t, TokenText, Classify("   "))
	assert.Equal(t, "separator", TokenSeparator.String())
}
