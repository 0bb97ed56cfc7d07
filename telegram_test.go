package main

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallbackCommand(t *testing.T) {
	cases := []struct {
		data string
		kind callbackKind
	}{
		{"view_full:abc", cmdViewFull},
		{"view_summary:abc", cmdViewSummary},
		{"reply_start:abc", cmdReplyStart},
		{"reply_back:abc", cmdReplyBack},
		{"reply_send:abc", cmdReplySend},
		{"reply_edit:abc", cmdReplyEdit},
		{"reply_cancel_edit:abc", cmdReplyCancelEdit},
	}
	for _, tc := range cases {
		cmd, err := parseCallbackCommand(tc.data)
		require.NoError(t, err, "data %q", tc.data)
		assert.Equal(t, tc.kind, cmd.Kind)
		assert.Equal(t, "abc", cmd.ViewID)
	}
}

func TestParseCallbackCommandRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "view_full", "view_full:", "nope:abc", ":abc"} {
		_, err := parseCallbackCommand(data)
		assert.Error(t, err, "data %q", data)
	}
}

func TestKeyboardPayloadsRoundTrip(t *testing.T) {
	keyboards := map[string]*tgbotapi.InlineKeyboardMarkup{
		"summary":      summaryKeyboard("view-1"),
		"fullView":     fullViewKeyboard("view-1"),
		"compose":      composeKeyboard("view-1"),
		"sendEdit":     sendEditKeyboard("view-1"),
		"editFeedback": editFeedbackKeyboard("view-1"),
	}

	// Every button must carry a payload the parser accepts
	for name, kb := range keyboards {
		for _, row := range kb.InlineKeyboard {
			for _, button := range row {
				require.NotNil(t, button.CallbackData, "keyboard %s", name)
				cmd, err := parseCallbackCommand(*button.CallbackData)
				require.NoError(t, err, "keyboard %s payload %q", name, *button.CallbackData)
				assert.Equal(t, "view-1", cmd.ViewID)
			}
		}
	}
}
