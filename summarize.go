package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// noContentPlaceholder is shown when a mail body normalizes to nothing
const noContentPlaceholder = "(No content)"

// shortBodyLimit: bodies at or under this many runes (and without a line
// break) are passed through untouched instead of being summarized.
const shortBodyLimit = 40

const fallbackSnippetLimit = 150

// trailingSignOff matches a closing phrase at the start of a line and
// everything after it. Used on the fallback-summary path; it is a heuristic
// and intentionally greedy.
var trailingSignOff = regexp.MustCompile(`(?is)(?:^|\n)[ \t]*(?:best regards|kind regards|warm regards|best wishes|best|regards|sincerely|many thanks|thanks|thank you|cheers|take care)\b.*$`)

// signOffLine matches a line that is nothing but a closing phrase. Used to
// trim residual closings from generated drafts before the canonical sign-off
// is appended.
var signOffLine = regexp.MustCompile(`(?i)^(?:best regards|kind regards|warm regards|best wishes|best|regards|sincerely|yours truly|many thanks|thanks|thank you|cheers|take care)[,!.]?$`)

// Summarizer orchestrates every language-generation call: mail summaries,
// fresh reply drafts, and edit application. Generated reply text never carries
// its own sign-off; AppendSignOff adds the canonical block exactly once.
type Summarizer struct {
	gen            Generator
	signOffClosing string
	signOffName    string
}

// NewSummarizer creates a summarizer. gen may be nil, which disables
// generation: summaries fall back to the heuristic, drafts fail with
// ErrGenerationDisabled.
func NewSummarizer(gen Generator, config *BotConfig) *Summarizer {
	return &Summarizer{
		gen:            gen,
		signOffClosing: config.SignOffClosing,
		signOffName:    config.SignOffName,
	}
}

const summaryPromptTemplate = `Rewrite this email into exactly this format. Output ONLY:
1) One line: the greeting only (e.g. "Dear Anna," or "Hi,").
2) A blank line.
3) One or two sentences that summarize the main point of the email. Do not include any sign-off (no Best, Sincerely, Regards, Thanks, Cheers, etc.). Do not include closings.

Email:
%s`

const draftPromptTemplate = `You are a professional email assistant. The user wants to reply to an email.
Convert their short message into a polite, respectful, professional reply.

Rules:
- Start with "Dear [recipient name]," with a comma only at the end of the line after the full name. Do not use "Hi".
- Use proper paragraph breaks (blank line between paragraphs).
- Do not include any sign-off, closing phrase, or sender name. Stop after the final body paragraph.
- Output plain text only.

User's message: %s
Recipient name (for greeting): %s`

const editPromptTemplate = `You are a professional email assistant. The user wants to modify this draft email.

Current draft:
%s

User's edit request: %s

Apply the changes. Keep the "Dear [recipient name]," greeting style. Do not include any sign-off, closing phrase, or sender name; stop after the final body paragraph.
Output the revised email only, plain text, with blank lines between paragraphs.`

// Summarize turns a normalized body into the greeting+synopsis block. It never
// fails: empty input yields the placeholder, trivial input passes through, and
// generation errors fall back to the deterministic heuristic.
func (s *Summarizer) Summarize(ctx context.Context, normalizedBody string) string {
	body := strings.TrimSpace(normalizedBody)
	if body == "" {
		return noContentPlaceholder
	}
	if len([]rune(body)) <= shortBodyLimit && !strings.Contains(body, "\n") {
		return body
	}

	if s.gen != nil {
		out, err := s.gen.Generate(ctx, fmt.Sprintf(summaryPromptTemplate, body), 200)
		if err == nil {
			return strings.TrimSpace(out)
		}
		logrus.Warnf("Summary generation failed, using fallback: %v", err)
	}

	return fallbackSummaryBlock(body)
}

// fallbackSummaryBlock derives greeting + snippet without the language model:
// first line as greeting, trailing sign-off stripped from the rest, snippet
// truncated to 150 runes.
func fallbackSummaryBlock(normalizedBody string) string {
	lines := strings.Split(normalizedBody, "\n")
	greeting := strings.TrimSpace(lines[0])

	rest := strings.Join(lines[1:], "\n")
	rest = trailingSignOff.ReplaceAllString(rest, "")
	rest = strings.Join(strings.Fields(rest), " ")

	snippet := strings.TrimSpace(truncateRunes(rest, fallbackSnippetLimit, ""))
	if greeting == "" {
		if snippet == "" {
			return noContentPlaceholder
		}
		return snippet
	}
	if snippet == "" {
		return greeting
	}
	return greeting + "\n\n" + snippet
}

// DraftReply expands the user's short intent into a full reply draft. No
// deterministic fallback exists here; the caller reports the failure and the
// user retries.
func (s *Summarizer) DraftReply(ctx context.Context, intent, senderName string) (string, error) {
	if s.gen == nil {
		return "", ErrGenerationDisabled
	}
	if senderName == "" {
		senderName = "there"
	}

	out, err := s.gen.Generate(ctx, fmt.Sprintf(draftPromptTemplate, intent, senderName), 500)
	if err != nil {
		return "", fmt.Errorf("draft generation failed: %w", err)
	}
	return ensureFormattedDraft(out), nil
}

// ApplyEdit revises an existing draft according to free-text feedback
func (s *Summarizer) ApplyEdit(ctx context.Context, draft, feedback string) (string, error) {
	if s.gen == nil {
		return "", ErrGenerationDisabled
	}

	out, err := s.gen.Generate(ctx, fmt.Sprintf(editPromptTemplate, draft, feedback), 800)
	if err != nil {
		return "", fmt.Errorf("edit generation failed: %w", err)
	}
	return ensureFormattedDraft(out), nil
}

// AppendSignOff strips any residual closing lines the model emitted anyway and
// appends the canonical sign-off block. The block appears exactly once: text
// that already ends with it is returned unchanged.
func (s *Summarizer) AppendSignOff(text string) string {
	text = ensureFormattedDraft(text)

	block := s.signOffBlock()
	if block == "" {
		return text
	}
	if text == block || strings.HasSuffix(text, "\n"+block) {
		return text
	}

	text = stripTrailingSignOff(text)
	if text == "" {
		return block
	}
	return text + "\n\n" + block
}

// signOffBlock is the canonical closing: closing phrase, then the
// organization name on its own line.
func (s *Summarizer) signOffBlock() string {
	switch {
	case s.signOffClosing == "" && s.signOffName == "":
		return ""
	case s.signOffName == "":
		return s.signOffClosing
	case s.signOffClosing == "":
		return s.signOffName
	}
	return s.signOffClosing + "\n" + s.signOffName
}

// stripTrailingSignOff removes a closing phrase found on its own line among
// the last three lines, plus whatever follows it. Scoping the scan to the tail
// keeps a mid-draft "Thanks for your patience." intact.
func stripTrailingSignOff(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	start := len(lines) - 3
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		if signOffLine.MatchString(strings.TrimSpace(lines[i])) {
			lines = lines[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ensureFormattedDraft normalizes line endings, collapses runs of blank lines,
// and trims the edges of generated text.
func ensureFormattedDraft(text string) string {
	text = normalizeLineEndings(text)
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
