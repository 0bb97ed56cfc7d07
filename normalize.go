package main

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern        = regexp.MustCompile(`<[^>]*>`)
	horizontalWhitespace  = regexp.MustCompile(`[ \t\f\v]+`)
	excessBlankLines      = regexp.MustCompile(`\n{3,}`)
	paragraphBreaks       = regexp.MustCompile(`\n{2,}`)
	telegramEscaper       = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	htmlEntityReplacement = []struct {
		entity string
		char   string
	}{
		{"&nbsp;", " "},
		{"&amp;", "&"},
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&#39;", "'"},
		{"&apos;", "'"},
	}
)

// stripHTMLTags removes markup tags from an HTML body. Entities are decoded
// separately; this is deliberately simple tag stripping, not HTML parsing.
func stripHTMLTags(content string) string {
	return htmlTagPattern.ReplaceAllString(content, "")
}

// decodeHTMLEntities decodes the small fixed set of entities that show up in
// mail bodies after tag stripping.
func decodeHTMLEntities(content string) string {
	for _, r := range htmlEntityReplacement {
		content = strings.ReplaceAll(content, r.entity, r.char)
	}
	return content
}

// normalizeLineEndings converts CRLF and bare CR to LF
func normalizeLineEndings(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

// NormalizeBody produces the aggressive single-spaced form used for
// summarization: entities decoded, line endings normalized, horizontal
// whitespace collapsed, lines trimmed, empty lines dropped. Idempotent.
func NormalizeBody(content string) string {
	if content == "" {
		return ""
	}
	content = decodeHTMLEntities(content)
	content = normalizeLineEndings(content)

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(horizontalWhitespace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// FormatFullBody produces the gentler form shown in the "full email" view:
// paragraph breaks survive, runs of three or more newlines collapse to one
// blank line, horizontal whitespace collapses within lines. Idempotent.
func FormatFullBody(content string) string {
	if content == "" {
		return ""
	}
	content = decodeHTMLEntities(content)
	content = normalizeLineEndings(content)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalWhitespace.ReplaceAllString(line, " "))
	}
	content = strings.Join(lines, "\n")
	content = excessBlankLines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// escapeTelegramHTML escapes the characters Telegram's HTML parse mode treats
// as markup.
func escapeTelegramHTML(text string) string {
	return telegramEscaper.Replace(text)
}

// plainTextToHTML renders a plain-text draft as the HTML body Graph expects:
// one <p> per paragraph, single newlines as <br>.
func plainTextToHTML(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "<p></p>"
	}

	var parts []string
	for _, para := range paragraphBreaks.Split(trimmed, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := telegramEscaper.Replace(para)
		parts = append(parts, "<p>"+strings.ReplaceAll(escaped, "\n", "<br>")+"</p>")
	}
	return strings.Join(parts, "\n")
}

// truncateRunes shortens text to at most limit runes, appending the suffix
// when anything was cut.
func truncateRunes(text string, limit int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	keep := limit - len([]rune(suffix))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + suffix
}
