// Package normalize strips Markdown structure from note text before embedding.
package normalize

import (
	"regexp"
	"strings"
)

// PreviewLength is the number of characters kept as a record's text preview.
const PreviewLength = 200

var (
	frontmatterRe = regexp.MustCompile(`(?ms)^---\n.*?\n---(?:\n|$)`)
	codeBlockRe   = regexp.MustCompile("(?s)```.*?```")
	wikilinkRe    = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]*))?\]\]`)
	mdLinkRe      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	htmlRe        = regexp.MustCompile(`<[^>]+>`)
	urlRe         = regexp.MustCompile(`https?://\S+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Normalize returns raw note text with front matter, fenced code, link markup,
// HTML tags and bare URLs removed, and blank-line runs collapsed.
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = stripFrontmatter(text)
	text = codeBlockRe.ReplaceAllString(text, "")
	text = wikilinkRe.ReplaceAllStringFunc(text, resolveWikilink)
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = htmlRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripFrontmatter removes only the first --- delimited block.
func stripFrontmatter(text string) string {
	loc := frontmatterRe.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + text[loc[1]:]
}

// resolveWikilink maps [[target]] to target and [[target|alias]] to alias.
func resolveWikilink(m string) string {
	sub := wikilinkRe.FindStringSubmatch(m)
	if alias := strings.TrimSpace(sub[2]); alias != "" {
		return alias
	}
	return sub[1]
}

// Truncate returns at most n characters of s, counting runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
