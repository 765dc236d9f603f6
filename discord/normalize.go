// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	userMentionPattern    = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionPattern    = regexp.MustCompile(`<@&\d+>`)
	channelMentionPattern = regexp.MustCompile(`<#\d+>`)
	customEmojiPattern    = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// normalizeContent turns message content into the plain single-line
// text a mesh radio can show. mentions maps user ids to display names.
func normalizeContent(content string, mentions map[string]string) string {
	content = userMentionPattern.ReplaceAllStringFunc(content, func(match string) string {
		id := userMentionPattern.FindStringSubmatch(match)[1]
		if name, ok := mentions[id]; ok {
			return "@" + name
		}
		return "@unknown-user"
	})
	content = roleMentionPattern.ReplaceAllString(content, "@role")
	content = channelMentionPattern.ReplaceAllString(content, "#channel")
	content = customEmojiPattern.ReplaceAllString(content, ":$1:")
	return strings.Join(strings.Fields(plainText([]byte(content))), " ")
}

// plainText renders Markdown source as its text content.
func plainText(source []byte) string {
	document := markdown.Parser().Parse(text.NewReader(source))
	var out strings.Builder
	ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := node.(type) {
		case *ast.Text:
			if entering {
				segment := node.Segment.Value(source)
				if _, code := node.Parent().(*ast.CodeSpan); !code {
					segment = util.UnescapePunctuations(segment)
				}
				out.Write(segment)
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.URL(source))
				return ast.WalkSkipChildren, nil
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := node.Lines()
				for index := range lines.Len() {
					segment := lines.At(index)
					out.Write(segment.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		if !entering && node.Type() == ast.TypeBlock && node.NextSibling() != nil {
			out.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return out.String()
}
