package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBot(t *testing.T, mail *fakeMail, chat *fakeChat, gen Generator) (*Bot, *Store) {
	t.Helper()
	store := newTestStore(t)
	summarizer := NewSummarizer(gen, testBotConfig())
	return NewBot(store, chat, mail, summarizer, testMetrics(), testBotConfig()), store
}

func textUpdate(chatID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
		},
	}
}

func callbackUpdate(chatID int64, messageID int, data string) *tgbotapi.Update {
	return &tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			Data: data,
			Message: &tgbotapi.Message{
				MessageID: messageID,
				Chat:      &tgbotapi.Chat{ID: chatID},
			},
		},
	}
}

func saveTestView(t *testing.T, store *Store, id string) *EmailView {
	t.Helper()
	view := &EmailView{
		ID:              id,
		SummaryText:     "<b>A new email was sent from Jane.</b>\n\n<b>📧 Email Summary:</b>\n\nHi,\n\nCan we meet Friday?",
		FullText:        "<b>A new email was sent from Jane.</b>\n\n<b>Full email:</b>\n\nHi,\n\nCan we meet Friday?\n\nBest,\nJane",
		SenderName:      "Jane",
		SourceMessageID: "msg-1",
	}
	require.NoError(t, store.SaveView(view))
	return view
}

func TestStartSubscribes(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	bot.HandleUpdate(ctx, textUpdate(100, "/start"))

	registered, err := store.IsSubscriber(100)
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Contains(t, chat.lastSent(t).text, "You will receive email notifications")

	// Second /start is a no-op
	bot.HandleUpdate(ctx, textUpdate(100, "/start"))
	assert.Contains(t, chat.lastSent(t).text, "already subscribed")

	count, err := store.CountSubscribers()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestStartEnforcesSubscriberCap(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	bot.HandleUpdate(ctx, textUpdate(100, "/start"))
	bot.HandleUpdate(ctx, textUpdate(200, "/start"))
	bot.HandleUpdate(ctx, textUpdate(300, "/start"))

	registered, err := store.IsSubscriber(300)
	require.NoError(t, err)
	assert.False(t, registered)
	assert.Contains(t, chat.lastSent(t).text, "Subscriber limit reached (2)")

	count, err := store.CountSubscribers()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestCheckReportsStatus(t *testing.T) {
	chat := &fakeChat{}
	bot, _ := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	bot.HandleUpdate(ctx, textUpdate(100, "/check"))
	assert.Contains(t, chat.lastSent(t).text, "not subscribed")

	bot.HandleUpdate(ctx, textUpdate(100, "/start"))
	bot.HandleUpdate(ctx, textUpdate(100, "/check"))
	assert.Contains(t, chat.lastSent(t).text, "✅ This chat is subscribed")
}

func TestUnknownCommand(t *testing.T) {
	chat := &fakeChat{}
	bot, _ := newTestBot(t, &fakeMail{}, chat, nil)

	bot.HandleUpdate(context.Background(), textUpdate(100, "/help"))
	assert.Contains(t, chat.lastSent(t).text, "Unknown command")
}

func TestCommandWithBotSuffix(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)

	bot.HandleUpdate(context.Background(), textUpdate(100, "/start@MailBridgeBot"))

	registered, err := store.IsSubscriber(100)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestFreeTextIgnoredWithoutSession(t *testing.T) {
	chat := &fakeChat{}
	bot, _ := newTestBot(t, &fakeMail{}, chat, nil)

	bot.HandleUpdate(context.Background(), textUpdate(100, "hello there"))
	assert.Empty(t, chat.sent)
	assert.Empty(t, chat.edits)
}

func TestViewToggle(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	view := saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "view_full:view-1"))
	edit := chat.lastEdit(t)
	assert.Equal(t, 10, edit.messageID)
	assert.Equal(t, view.FullText, edit.text)
	require.NotNil(t, edit.keyboard)
	assert.Len(t, edit.keyboard.InlineKeyboard[0], 2)

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "view_summary:view-1"))
	edit = chat.lastEdit(t)
	assert.Equal(t, view.SummaryText, edit.text)

	require.Len(t, chat.answered, 2)
}

func TestReplyFlow(t *testing.T) {
	mail := &fakeMail{}
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me. Looking forward to it."}
	bot, store := newTestBot(t, mail, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	// Reply opens the compose prompt and a session
	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	assert.Contains(t, chat.lastEdit(t).text, "What would you like to say to Jane?")

	session, err := store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingReply, session.Mode)
	assert.Equal(t, "view-1", session.ViewID)

	// Free text becomes a signed draft awaiting send/edit
	bot.HandleUpdate(ctx, textUpdate(100, "tell her friday works"))
	draftMsg := chat.lastSent(t)
	assert.Contains(t, draftMsg.text, "📝 Draft reply to Jane:")
	assert.Contains(t, draftMsg.text, "Friday works for me.")
	assert.Contains(t, draftMsg.text, "Best regards,\nAcme Studio")
	require.NotNil(t, draftMsg.keyboard)

	session, err = store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingSendEdit, session.Mode)
	assert.True(t, strings.HasSuffix(session.Draft, "Best regards,\nAcme Studio"))
	assert.Equal(t, 1, strings.Count(session.Draft, "Best regards,"))

	// Send delivers the reply and clears the session
	bot.HandleUpdate(ctx, callbackUpdate(100, session.AnchorMessageID, "reply_send:view-1"))
	require.Len(t, mail.replies, 1)
	assert.Equal(t, "msg-1", mail.replies[0].messageID)
	assert.Contains(t, mail.replies[0].htmlBody, "<p>Dear Jane,</p>")
	assert.Contains(t, mail.replies[0].htmlBody, "Best regards,<br>Acme Studio")

	assert.Contains(t, chat.lastEdit(t).text, "✅ Reply sent to Jane.")
	_, err = store.GetSession(100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplyEditFlow(t *testing.T) {
	mail := &fakeMail{}
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me."}
	bot, store := newTestBot(t, mail, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, textUpdate(100, "friday works"))

	session, err := store.GetSession(100)
	require.NoError(t, err)
	anchor := session.AnchorMessageID

	// Edit asks for feedback
	bot.HandleUpdate(ctx, callbackUpdate(100, anchor, "reply_edit:view-1"))
	assert.Contains(t, chat.lastEdit(t).text, "What would you like to change?")

	session, err = store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingEditFeedback, session.Mode)

	// Feedback revises the draft in place
	gen.output = "Dear Jane,\n\nFriday at 2pm works for me."
	bot.HandleUpdate(ctx, textUpdate(100, "mention 2pm"))

	edit := chat.lastEdit(t)
	assert.Equal(t, anchor, edit.messageID)
	assert.Contains(t, edit.text, "Friday at 2pm works for me.")
	assert.Contains(t, edit.text, "Best regards,\nAcme Studio")

	session, err = store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingSendEdit, session.Mode)
	assert.Contains(t, session.Draft, "Friday at 2pm")
}

func TestReplyCancelEditRestoresDraft(t *testing.T) {
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me."}
	bot, store := newTestBot(t, &fakeMail{}, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, textUpdate(100, "friday works"))
	session, err := store.GetSession(100)
	require.NoError(t, err)

	bot.HandleUpdate(ctx, callbackUpdate(100, session.AnchorMessageID, "reply_edit:view-1"))
	bot.HandleUpdate(ctx, callbackUpdate(100, session.AnchorMessageID, "reply_cancel_edit:view-1"))

	assert.Contains(t, chat.lastEdit(t).text, "📝 Draft reply to Jane:")

	session, err = store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingSendEdit, session.Mode)
	assert.Contains(t, session.Draft, "Friday works for me.")
}

func TestReplyBackDiscardsSession(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	view := saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_back:view-1"))

	assert.Equal(t, view.SummaryText, chat.lastEdit(t).text)
	_, err := store.GetSession(100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplyStartReplacesExistingSession(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	saveTestView(t, store, "view-a")
	saveTestView(t, store, "view-b")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-a"))
	bot.HandleUpdate(ctx, callbackUpdate(100, 11, "reply_start:view-b"))

	session, err := store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, "view-b", session.ViewID)
	assert.Equal(t, ModeAwaitingReply, session.Mode)

	var count int64
	require.NoError(t, store.db.Model(&ReplySession{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSendOnStaleViewRejected(t *testing.T) {
	mail := &fakeMail{}
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me."}
	bot, store := newTestBot(t, mail, chat, gen)
	saveTestView(t, store, "view-a")
	saveTestView(t, store, "view-b")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-a"))
	bot.HandleUpdate(ctx, textUpdate(100, "friday works"))

	// Session now belongs to view-b; Send pressed on the old view-a message
	bot.HandleUpdate(ctx, callbackUpdate(100, 11, "reply_start:view-b"))
	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_send:view-a"))

	assert.Empty(t, mail.replies)
	assert.Contains(t, chat.lastSent(t).text, "no longer active")
}

func TestCallbackOnExpiredView(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(&ReplySession{
		ChatID: 100,
		ViewID: "gone",
		Mode:   ModeAwaitingReply,
	}))

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_send:gone"))

	assert.Contains(t, chat.lastEdit(t).text, "no longer available")
	_, err := store.GetSession(100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFreeTextOnExpiredViewAbandonsSession(t *testing.T) {
	chat := &fakeChat{}
	bot, store := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	require.NoError(t, store.SaveSession(&ReplySession{
		ChatID: 100,
		ViewID: "gone",
		Mode:   ModeAwaitingReply,
	}))

	bot.HandleUpdate(ctx, textUpdate(100, "tell her yes"))

	assert.Contains(t, chat.lastSent(t).text, "no longer available")
	_, err := store.GetSession(100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDraftFailureKeepsSessionWaiting(t *testing.T) {
	chat := &fakeChat{}
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	bot, store := newTestBot(t, &fakeMail{}, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, textUpdate(100, "tell her yes"))

	assert.Contains(t, chat.lastSent(t).text, "Could not generate a draft")

	// The user can just send the text again
	session, err := store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingReply, session.Mode)
}

func TestSendFailureKeepsDraft(t *testing.T) {
	mail := &fakeMail{sendErr: errors.New("graph unavailable")}
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me."}
	bot, store := newTestBot(t, mail, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, textUpdate(100, "friday works"))
	session, err := store.GetSession(100)
	require.NoError(t, err)

	bot.HandleUpdate(ctx, callbackUpdate(100, session.AnchorMessageID, "reply_send:view-1"))

	assert.Contains(t, chat.lastSent(t).text, "Failed to send the reply")

	session, err = store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingSendEdit, session.Mode)
	assert.NotEmpty(t, session.Draft)
}

func TestFreeTextWhileAwaitingSendEdit(t *testing.T) {
	chat := &fakeChat{}
	gen := &fakeGenerator{output: "Dear Jane,\n\nFriday works for me."}
	bot, store := newTestBot(t, &fakeMail{}, chat, gen)
	saveTestView(t, store, "view-1")
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_start:view-1"))
	bot.HandleUpdate(ctx, textUpdate(100, "friday works"))
	bot.HandleUpdate(ctx, textUpdate(100, "actually wait"))

	assert.Contains(t, chat.lastSent(t).text, "Use the Send or Edit buttons")

	session, err := store.GetSession(100)
	require.NoError(t, err)
	assert.Equal(t, ModeAwaitingSendEdit, session.Mode)
}

func TestMalformedCallbackIgnored(t *testing.T) {
	chat := &fakeChat{}
	bot, _ := newTestBot(t, &fakeMail{}, chat, nil)
	ctx := context.Background()

	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "reply_send"))
	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "unknown_command:view-1"))
	bot.HandleUpdate(ctx, callbackUpdate(100, 10, "view_full:"))

	assert.Empty(t, chat.sent)
	assert.Empty(t, chat.edits)
	// Every press is still acknowledged
	assert.Len(t, chat.answered, 3)
}
