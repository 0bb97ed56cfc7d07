package main

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatClient is the narrow Telegram surface the dispatcher and reply flow
// consume. Delivery is best-effort; callers log failures and move on.
type ChatClient interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

// TelegramClient implements ChatClient over the Bot API
type TelegramClient struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramClient creates the client; the underlying library verifies the
// token with a getMe call.
func NewTelegramClient(config *TelegramConfig) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &TelegramClient{bot: bot}, nil
}

// SendMessage sends an HTML-formatted message and returns its message id
func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessage replaces an existing message's text and keyboard in place
func (t *TelegramClient) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard

	if _, err := t.bot.Send(edit); err != nil {
		return fmt.Errorf("failed to edit Telegram message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its spinner
func (t *TelegramClient) AnswerCallback(ctx context.Context, callbackID string) error {
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// Callback command kinds. Button payloads are "<kind>:<viewID>".
type callbackKind int

const (
	cmdViewFull callbackKind = iota
	cmdViewSummary
	cmdReplyStart
	cmdReplyBack
	cmdReplySend
	cmdReplyEdit
	cmdReplyCancelEdit
)

var callbackKinds = map[string]callbackKind{
	"view_full":         cmdViewFull,
	"view_summary":      cmdViewSummary,
	"reply_start":       cmdReplyStart,
	"reply_back":        cmdReplyBack,
	"reply_send":        cmdReplySend,
	"reply_edit":        cmdReplyEdit,
	"reply_cancel_edit": cmdReplyCancelEdit,
}

// callbackCommand is a decoded button press
type callbackCommand struct {
	Kind   callbackKind
	ViewID string
}

// parseCallbackCommand decodes a colon-delimited callback payload into the
// closed command set, rejecting anything malformed up front so handlers can
// switch exhaustively.
func parseCallbackCommand(data string) (*callbackCommand, error) {
	name, viewID, found := strings.Cut(data, ":")
	if !found || viewID == "" {
		return nil, fmt.Errorf("malformed callback payload %q", data)
	}

	kind, ok := callbackKinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown callback command %q", name)
	}
	return &callbackCommand{Kind: kind, ViewID: viewID}, nil
}

// Inline keyboards for each display state.

func summaryKeyboard(viewID string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("See the full email", "view_full:"+viewID),
		),
	)
	return &kb
}

func fullViewKeyboard(viewID string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back to summary", "view_summary:"+viewID),
			tgbotapi.NewInlineKeyboardButtonData("Reply", "reply_start:"+viewID),
		),
	)
	return &kb
}

func composeKeyboard(viewID string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back", "reply_back:"+viewID),
		),
	)
	return &kb
}

func sendEditKeyboard(viewID string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Send", "reply_send:"+viewID),
			tgbotapi.NewInlineKeyboardButtonData("Edit", "reply_edit:"+viewID),
		),
	)
	return &kb
}

func editFeedbackKeyboard(viewID string) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back", "reply_cancel_edit:"+viewID),
		),
	)
	return &kb
}
