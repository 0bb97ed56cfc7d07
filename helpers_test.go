package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	testMetricsOnce sync.Once
	testMetricsInst *Metrics
	testDBSeq       atomic.Int64
)

// testMetrics returns a process-wide Metrics instance. Prometheus collectors
// register globally, so creating one per test would panic on re-registration.
func testMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetricsInst = NewMetrics()
	})
	return testMetricsInst
}

func testBotConfig() *BotConfig {
	return &BotConfig{
		MaxSubscribers:   2,
		SignOffClosing:   "Best regards,",
		SignOffName:      "Acme Studio",
		MaxMessageLength: 4096,
		ViewTTL:          24 * time.Hour,
		SessionTTL:       2 * time.Hour,
		ProcessedTTL:     720 * time.Hour,
	}
}

// newTestDB opens a private in-memory SQLite database with all migrations
// applied. cache=shared keeps the schema visible across pooled connections.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&ProcessedNotification{},
		&EmailView{},
		&ReplySession{},
		&Subscriber{},
		&MailSubscription{},
		&DispatchLog{},
	))
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestDB(t), testBotConfig())
}

// fakeChat records outgoing Telegram traffic

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

type editedMessage struct {
	chatID    int64
	messageID int
	text      string
	keyboard  *tgbotapi.InlineKeyboardMarkup
}

type fakeChat struct {
	mu       sync.Mutex
	sent     []sentMessage
	edits    []editedMessage
	answered []string
	nextID   int
	sendErr  error
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return f.nextID, nil
}

func (f *fakeChat) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{chatID: chatID, messageID: messageID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeChat) AnswerCallback(ctx context.Context, callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChat) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "expected at least one sent message")
	return f.sent[len(f.sent)-1]
}

func (f *fakeChat) lastEdit(t *testing.T) editedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits, "expected at least one edited message")
	return f.edits[len(f.edits)-1]
}

// fakeMail serves canned mailbox items and records reply sends

type sentReply struct {
	messageID string
	htmlBody  string
}

type fakeMail struct {
	messages    map[string]*MailMessage
	threadSizes map[string]int
	replies     []sentReply
	renewed     []string
	fetchErr    error
	sendErr     error
	renewErr    error
}

func (f *fakeMail) FetchMessage(ctx context.Context, messageID string) (*MailMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	return msg, nil
}

func (f *fakeMail) ThreadSize(ctx context.Context, conversationID string) (int, error) {
	return f.threadSizes[conversationID], nil
}

func (f *fakeMail) SendReply(ctx context.Context, messageID, htmlBody string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.replies = append(f.replies, sentReply{messageID: messageID, htmlBody: htmlBody})
	return nil
}

func (f *fakeMail) CreateSubscription(ctx context.Context) (*SubscriptionInfo, error) {
	return &SubscriptionInfo{
		ID:        "sub-test",
		Resource:  "me/mailFolders('Inbox')/messages",
		ExpiresAt: time.Now().Add(subscriptionLifetime),
	}, nil
}

func (f *fakeMail) RenewSubscription(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	if f.renewErr != nil {
		return f.renewErr
	}
	f.renewed = append(f.renewed, subscriptionID)
	return nil
}

// fakeGenerator returns a fixed completion and records prompts

type fakeGenerator struct {
	output  string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}
