package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeEmptyBody(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	assert.Equal(t, "(No content)", s.Summarize(context.Background(), ""))
	assert.Equal(t, "(No content)", s.Summarize(context.Background(), "   \n  "))
}

func TestSummarizeShortBodyPassthrough(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	assert.Equal(t, "ok", s.Summarize(context.Background(), "ok"))
	assert.Equal(t, "See you at 3pm tomorrow.", s.Summarize(context.Background(), "See you at 3pm tomorrow."))
}

func TestSummarizeShortBodyWithNewlineNotPassthrough(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	// Short but multi-line, so it goes through the fallback path
	out := s.Summarize(context.Background(), "Hi,\nsee you")
	assert.Equal(t, "Hi,\n\nsee you", out)
}

func TestSummarizeFallback(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	body := NormalizeBody("Hi,\n\nCan we meet Friday?\n\nBest,\nJane")
	require.Equal(t, "Hi,\nCan we meet Friday?\nBest,\nJane", body)

	assert.Equal(t, "Hi,\n\nCan we meet Friday?", s.Summarize(context.Background(), body))
}

func TestSummarizeFallbackStripsSignOffVariants(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	cases := []struct {
		body     string
		expected string
	}{
		{"Hello team,\nThe deploy finished without errors.\nKind regards,\nOps", "Hello team,\n\nThe deploy finished without errors."},
		{"Dear Anna,\nInvoice 42 is attached for your records.\nThanks\nBilling", "Dear Anna,\n\nInvoice 42 is attached for your records."},
		{"Hi,\nLunch is moved to noon.\nCheers", "Hi,\n\nLunch is moved to noon."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, s.Summarize(context.Background(), tc.body), "body %q", tc.body)
	}
}

func TestSummarizeFallbackTruncatesSnippet(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	body := "Hi,\n" + strings.Repeat("word ", 100)
	out := s.Summarize(context.Background(), body)

	lines := strings.SplitN(out, "\n\n", 2)
	require.Len(t, lines, 2)
	assert.Equal(t, "Hi,", lines[0])
	assert.LessOrEqual(t, len([]rune(lines[1])), 150)
}

func TestSummarizeUsesGenerator(t *testing.T) {
	gen := &fakeGenerator{output: "Dear Anna,\n\nThe meeting moved to Friday."}
	s := NewSummarizer(gen, testBotConfig())

	body := "Dear Anna,\nAfter checking everyone's calendar we decided to move the meeting to Friday."
	out := s.Summarize(context.Background(), body)

	assert.Equal(t, "Dear Anna,\n\nThe meeting moved to Friday.", out)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], body)
}

func TestSummarizeGeneratorFailureFallsBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	s := NewSummarizer(gen, testBotConfig())

	body := "Hi,\nCan we meet Friday?\nBest,\nJane"
	assert.Equal(t, "Hi,\n\nCan we meet Friday?", s.Summarize(context.Background(), body))
}

func TestDraftReplyDisabled(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	_, err := s.DraftReply(context.Background(), "tell her yes", "Jane")
	assert.ErrorIs(t, err, ErrGenerationDisabled)

	_, err = s.ApplyEdit(context.Background(), "draft", "shorter")
	assert.ErrorIs(t, err, ErrGenerationDisabled)
}

func TestDraftReplyFormatsOutput(t *testing.T) {
	gen := &fakeGenerator{output: "Dear Jane,\r\n\r\n\r\nFriday works for me.\r\n"}
	s := NewSummarizer(gen, testBotConfig())

	draft, err := s.DraftReply(context.Background(), "yes friday is fine", "Jane")
	require.NoError(t, err)
	assert.Equal(t, "Dear Jane,\n\nFriday works for me.", draft)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "yes friday is fine")
	assert.Contains(t, gen.prompts[0], "Jane")
}

func TestAppendSignOff(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	out := s.AppendSignOff("Dear Jane,\n\nFriday works for me.")
	assert.Equal(t, "Dear Jane,\n\nFriday works for me.\n\nBest regards,\nAcme Studio", out)
}

func TestAppendSignOffExactlyOnce(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	// Already canonical: appending again must not duplicate the block
	canonical := "Dear Jane,\n\nFriday works for me.\n\nBest regards,\nAcme Studio"
	out := s.AppendSignOff(canonical)
	assert.Equal(t, canonical, out)
	assert.Equal(t, 1, strings.Count(out, "Best regards,"))
}

func TestAppendSignOffStripsModelClosing(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	cases := []string{
		"Dear Jane,\n\nFriday works for me.\n\nBest regards,\nJohn Smith",
		"Dear Jane,\n\nFriday works for me.\n\nSincerely,\nJohn",
		"Dear Jane,\n\nFriday works for me.\n\nThanks!",
	}
	expected := "Dear Jane,\n\nFriday works for me.\n\nBest regards,\nAcme Studio"
	for _, draft := range cases {
		assert.Equal(t, expected, s.AppendSignOff(draft), "draft %q", draft)
	}
}

func TestAppendSignOffKeepsMidDraftThanks(t *testing.T) {
	s := NewSummarizer(nil, testBotConfig())

	draft := "Dear Jane,\n\nThanks for your patience.\n\nThe report is attached, along with the figures you asked about last week."
	out := s.AppendSignOff(draft)

	assert.Contains(t, out, "Thanks for your patience.")
	assert.True(t, strings.HasSuffix(out, "Best regards,\nAcme Studio"))
}

func TestAppendSignOffWithoutName(t *testing.T) {
	config := testBotConfig()
	config.SignOffName = ""
	s := NewSummarizer(nil, config)

	out := s.AppendSignOff("Dear Jane,\n\nFriday works.")
	assert.Equal(t, "Dear Jane,\n\nFriday works.\n\nBest regards,", out)
}
