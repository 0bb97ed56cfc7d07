package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// User-facing notices
const (
	expiredViewNotice   = "This email is no longer available. Wait for the next notification and start the reply from there."
	staleDraftNotice    = "This draft is no longer active. Press Reply on an email notification to start a new one."
	draftFailedNotice   = "⚠️ Could not generate a draft. Please send your message again."
	editFailedNotice    = "⚠️ Could not apply that change. Please try again."
	sendFailedNotice    = "⚠️ Failed to send the reply. Please try again."
	useButtonsHint      = "Use the Send or Edit buttons on the draft above."
	unknownCommandReply = "Unknown command. Available commands: /start, /check"
)

// Bot drives the per-chat reply-composition state machine and the
// registration commands. All state lives in the store; each update is handled
// independently.
type Bot struct {
	store          *Store
	chat           ChatClient
	mail           MailClient
	summarizer     *Summarizer
	metrics        *Metrics
	maxSubscribers int
}

// NewBot creates the Telegram update handler
func NewBot(store *Store, chat ChatClient, mail MailClient, summarizer *Summarizer, metrics *Metrics, config *BotConfig) *Bot {
	return &Bot{
		store:          store,
		chat:           chat,
		mail:           mail,
		summarizer:     summarizer,
		metrics:        metrics,
		maxSubscribers: config.MaxSubscribers,
	}
}

// HandleUpdate routes one inbound Telegram update
func (b *Bot) HandleUpdate(ctx context.Context, update *tgbotapi.Update) {
	b.metrics.TelegramUpdates.Inc()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Chat != nil && update.Message.Text != "":
		if strings.HasPrefix(update.Message.Text, "/") {
			b.handleCommand(ctx, update.Message.Chat.ID, update.Message.Text)
		} else {
			b.handleText(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}

// handleCommand handles slash commands
func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	command := strings.ToLower(strings.Fields(text)[0])
	// Strip the @botname suffix used in group chats
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	switch command {
	case "/start":
		b.handleStart(ctx, chatID)
	case "/check":
		b.handleCheck(ctx, chatID)
	default:
		b.notify(ctx, chatID, unknownCommandReply)
	}
}

// handleStart registers the chat for notifications, subject to the
// subscriber cap.
func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	registered, err := b.store.IsSubscriber(chatID)
	if err != nil {
		logrus.Warnf("Failed to check subscriber %d: %v", chatID, err)
		return
	}
	if registered {
		b.notify(ctx, chatID, "This chat is already subscribed to email notifications.")
		return
	}

	count, err := b.store.CountSubscribers()
	if err != nil {
		logrus.Warnf("Failed to count subscribers: %v", err)
		return
	}
	if count >= int64(b.maxSubscribers) {
		b.notify(ctx, chatID, fmt.Sprintf("Subscriber limit reached (%d). This chat was not added.", b.maxSubscribers))
		return
	}

	added, err := b.store.AddSubscriber(chatID)
	if err != nil {
		logrus.Warnf("Failed to add subscriber %d: %v", chatID, err)
		return
	}
	if added {
		b.metrics.ActiveSubscribers.Set(float64(count + 1))
		logrus.Infof("Registered subscriber chat %d", chatID)
	}
	b.notify(ctx, chatID, "👋 You will receive email notifications in this chat.\n\nCommands:\n/start - Subscribe this chat\n/check - Show subscription status")
}

// handleCheck reports registration status without mutating anything
func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	registered, err := b.store.IsSubscriber(chatID)
	if err != nil {
		logrus.Warnf("Failed to check subscriber %d: %v", chatID, err)
		return
	}
	if registered {
		b.notify(ctx, chatID, "✅ This chat is subscribed to email notifications.")
	} else {
		b.notify(ctx, chatID, "This chat is not subscribed. Send /start to subscribe.")
	}
}

// handleText handles free-form text: with no active session it is ignored,
// otherwise it feeds whichever composition step the session is waiting on.
func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	session, err := b.store.GetSession(chatID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logrus.Warnf("Failed to load session for chat %d: %v", chatID, err)
		}
		// Idle chat: nothing to do with free text
		return
	}

	view, err := b.store.GetView(session.ViewID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			b.abandonSession(ctx, chatID)
			return
		}
		logrus.Warnf("Failed to load view %s: %v", session.ViewID, err)
		return
	}

	switch session.Mode {
	case ModeAwaitingReply:
		b.composeDraft(ctx, session, view, text)
	case ModeAwaitingEditFeedback:
		b.reviseDraft(ctx, session, view, text)
	case ModeAwaitingSendEdit:
		b.notify(ctx, chatID, useButtonsHint)
	}
}

// composeDraft expands the user's intent into a draft and moves the session
// to awaiting_send_edit. Failures leave the session untouched so the user can
// simply send the text again.
func (b *Bot) composeDraft(ctx context.Context, session *ReplySession, view *EmailView, intent string) {
	draft, err := b.summarizer.DraftReply(ctx, intent, view.SenderName)
	if err != nil {
		logrus.Warnf("Draft generation failed for chat %d: %v", session.ChatID, err)
		b.metrics.GenerationFailures.Inc()
		b.notify(ctx, session.ChatID, draftFailedNotice)
		return
	}
	draft = b.summarizer.AppendSignOff(draft)

	messageID, err := b.chat.SendMessage(ctx, session.ChatID, draftDisplay(view.SenderName, draft), sendEditKeyboard(view.ID))
	if err != nil {
		logrus.Warnf("Failed to present draft to chat %d: %v", session.ChatID, err)
		return
	}

	session.Mode = ModeAwaitingSendEdit
	session.Draft = draft
	session.AnchorMessageID = messageID
	if err := b.store.SaveSession(session); err != nil {
		logrus.Warnf("Failed to save session for chat %d: %v", session.ChatID, err)
	}
}

// reviseDraft applies edit feedback to the stored draft and returns the
// session to awaiting_send_edit. Failures keep the session waiting for
// feedback.
func (b *Bot) reviseDraft(ctx context.Context, session *ReplySession, view *EmailView, feedback string) {
	revised, err := b.summarizer.ApplyEdit(ctx, session.Draft, feedback)
	if err != nil {
		logrus.Warnf("Edit generation failed for chat %d: %v", session.ChatID, err)
		b.metrics.GenerationFailures.Inc()
		b.notify(ctx, session.ChatID, editFailedNotice)
		return
	}
	revised = b.summarizer.AppendSignOff(revised)

	session.Mode = ModeAwaitingSendEdit
	session.Draft = revised
	if err := b.store.SaveSession(session); err != nil {
		logrus.Warnf("Failed to save session for chat %d: %v", session.ChatID, err)
		return
	}

	if err := b.chat.EditMessage(ctx, session.ChatID, session.AnchorMessageID, draftDisplay(view.SenderName, revised), sendEditKeyboard(view.ID)); err != nil {
		logrus.Warnf("Failed to redisplay draft for chat %d: %v", session.ChatID, err)
	}
}

// handleCallback handles a decoded button press
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if err := b.chat.AnswerCallback(ctx, cb.ID); err != nil {
		logrus.Debugf("Failed to acknowledge callback: %v", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	cmd, err := parseCallbackCommand(cb.Data)
	if err != nil {
		logrus.Warnf("Ignoring callback from chat %d: %v", chatID, err)
		return
	}

	view, err := b.store.GetView(cmd.ViewID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The view outlived its TTL: drop any session that references it
			if err := b.store.DeleteSession(chatID); err != nil {
				logrus.Warnf("Failed to delete session for chat %d: %v", chatID, err)
			}
			b.edit(ctx, chatID, messageID, expiredViewNotice, nil)
			return
		}
		logrus.Warnf("Failed to load view %s: %v", cmd.ViewID, err)
		return
	}

	switch cmd.Kind {
	case cmdViewFull:
		b.edit(ctx, chatID, messageID, view.FullText, fullViewKeyboard(view.ID))

	case cmdViewSummary:
		b.edit(ctx, chatID, messageID, view.SummaryText, summaryKeyboard(view.ID))

	case cmdReplyStart:
		// Overwrites any session already in progress for this chat
		session := &ReplySession{
			ChatID:          chatID,
			ViewID:          view.ID,
			Mode:            ModeAwaitingReply,
			AnchorMessageID: messageID,
		}
		if err := b.store.SaveSession(session); err != nil {
			logrus.Warnf("Failed to create session for chat %d: %v", chatID, err)
			return
		}
		b.edit(ctx, chatID, messageID, composePrompt(view), composeKeyboard(view.ID))

	case cmdReplyBack:
		if err := b.store.DeleteSession(chatID); err != nil {
			logrus.Warnf("Failed to delete session for chat %d: %v", chatID, err)
		}
		b.edit(ctx, chatID, messageID, view.SummaryText, summaryKeyboard(view.ID))

	case cmdReplySend:
		session, ok := b.activeSession(ctx, chatID, view.ID)
		if !ok {
			return
		}
		if err := b.mail.SendReply(ctx, view.SourceMessageID, plainTextToHTML(session.Draft)); err != nil {
			logrus.Errorf("Failed to send reply for chat %d: %v", chatID, err)
			b.notify(ctx, chatID, sendFailedNotice)
			return
		}
		if err := b.store.DeleteSession(chatID); err != nil {
			logrus.Warnf("Failed to delete session for chat %d: %v", chatID, err)
		}
		b.metrics.RepliesSent.Inc()
		logrus.Infof("Reply sent for chat %d to %s", chatID, view.SenderName)
		b.edit(ctx, chatID, messageID, fmt.Sprintf("✅ Reply sent to %s.", escapeTelegramHTML(view.SenderName)), nil)

	case cmdReplyEdit:
		session, ok := b.activeSession(ctx, chatID, view.ID)
		if !ok {
			return
		}
		session.Mode = ModeAwaitingEditFeedback
		session.AnchorMessageID = messageID
		if err := b.store.SaveSession(session); err != nil {
			logrus.Warnf("Failed to save session for chat %d: %v", chatID, err)
			return
		}
		b.edit(ctx, chatID, messageID, editPrompt(view.SenderName, session.Draft), editFeedbackKeyboard(view.ID))

	case cmdReplyCancelEdit:
		session, ok := b.activeSession(ctx, chatID, view.ID)
		if !ok {
			return
		}
		session.Mode = ModeAwaitingSendEdit
		if err := b.store.SaveSession(session); err != nil {
			logrus.Warnf("Failed to save session for chat %d: %v", chatID, err)
			return
		}
		b.edit(ctx, chatID, messageID, draftDisplay(view.SenderName, session.Draft), sendEditKeyboard(view.ID))
	}
}

// activeSession loads the chat's session and checks it still belongs to the
// pressed view; button presses on stale messages get a restart notice.
func (b *Bot) activeSession(ctx context.Context, chatID int64, viewID string) (*ReplySession, bool) {
	session, err := b.store.GetSession(chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			b.notify(ctx, chatID, staleDraftNotice)
		} else {
			logrus.Warnf("Failed to load session for chat %d: %v", chatID, err)
		}
		return nil, false
	}
	if session.ViewID != viewID {
		b.notify(ctx, chatID, staleDraftNotice)
		return nil, false
	}
	return session, true
}

// abandonSession discards a session whose view has expired
func (b *Bot) abandonSession(ctx context.Context, chatID int64) {
	if err := b.store.DeleteSession(chatID); err != nil {
		logrus.Warnf("Failed to delete session for chat %d: %v", chatID, err)
	}
	b.notify(ctx, chatID, expiredViewNotice)
}

// notify sends a best-effort plain notice
func (b *Bot) notify(ctx context.Context, chatID int64, text string) {
	if _, err := b.chat.SendMessage(ctx, chatID, text, nil); err != nil {
		logrus.Warnf("Failed to notify chat %d: %v", chatID, err)
	}
}

// edit replaces a message in place, best-effort
func (b *Bot) edit(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if err := b.chat.EditMessage(ctx, chatID, messageID, text, keyboard); err != nil {
		logrus.Warnf("Failed to edit message %d in chat %d: %v", messageID, chatID, err)
	}
}

// composePrompt asks the user what to say, under the original summary
func composePrompt(view *EmailView) string {
	return fmt.Sprintf("%s\n\nWhat would you like to say to %s?", view.SummaryText, escapeTelegramHTML(view.SenderName))
}

// draftDisplay renders the current draft with its recipient
func draftDisplay(senderName, draft string) string {
	return fmt.Sprintf("<b>📝 Draft reply to %s:</b>\n\n%s", escapeTelegramHTML(senderName), escapeTelegramHTML(draft))
}

// editPrompt asks for edit feedback, under the current draft
func editPrompt(senderName, draft string) string {
	return draftDisplay(senderName, draft) + "\n\nWhat would you like to change?"
}
