package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const truncationSuffix = "... (truncated)"

// Dispatcher turns deduplicated mail-change events into Telegram
// notifications: fetch, normalize, summarize, persist the view, push to every
// subscriber.
type Dispatcher struct {
	store            *Store
	mail             MailClient
	chat             ChatClient
	summarizer       *Summarizer
	metrics          *Metrics
	maxMessageLength int
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(store *Store, mail MailClient, chat ChatClient, summarizer *Summarizer, metrics *Metrics, config *BotConfig) *Dispatcher {
	return &Dispatcher{
		store:            store,
		mail:             mail,
		chat:             chat,
		summarizer:       summarizer,
		metrics:          metrics,
		maxMessageLength: config.MaxMessageLength,
	}
}

// HandleMailNotification processes one webhook delivery. Events run
// sequentially in delivery order; each is gated by the dedup marker and
// carries its own error boundary, so one bad message never sinks the batch.
func (d *Dispatcher) HandleMailNotification(ctx context.Context, messageIDs []string) {
	seen := make(map[string]struct{}, len(messageIDs))

	for _, messageID := range messageIDs {
		if _, dup := seen[messageID]; dup {
			continue
		}
		seen[messageID] = struct{}{}
		d.metrics.NotificationsReceived.Inc()

		fresh, err := d.store.MarkProcessed(messageID)
		if err != nil {
			// Not marked, so the provider's redelivery is the retry path
			logrus.Errorf("Failed to mark message %s as processed: %v", messageID, err)
			d.metrics.DispatchFailures.Inc()
			d.store.LogDispatch(messageID, StatusFailure, err.Error())
			continue
		}
		if !fresh {
			logrus.Debugf("Message %s already processed, skipping", messageID)
			d.metrics.DuplicateEvents.Inc()
			continue
		}

		timer := prometheus.NewTimer(d.metrics.ProcessingTime)
		status, err := d.processMessage(ctx, messageID)
		timer.ObserveDuration()

		if err != nil {
			logrus.WithError(err).Errorf("Failed to process message %s", messageID)
			d.metrics.DispatchFailures.Inc()
			d.store.LogDispatch(messageID, StatusFailure, err.Error())
			continue
		}

		if status == StatusDispatched {
			d.metrics.DispatchSuccesses.Inc()
		}
		d.store.LogDispatch(messageID, status, "")
	}
}

// processMessage handles a single fresh mail event end to end
func (d *Dispatcher) processMessage(ctx context.Context, messageID string) (string, error) {
	msg, err := d.mail.FetchMessage(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderAddress
	}
	if sender == "" {
		sender = "Unknown"
	}

	content := msg.Content
	if msg.ContentType == "html" {
		content = stripHTMLTags(content)
	}
	normalized := NormalizeBody(content)

	isInThread := false
	if size, err := d.mail.ThreadSize(ctx, msg.ConversationID); err != nil {
		logrus.Warnf("Thread check failed for message %s: %v", messageID, err)
	} else {
		isInThread = size >= 2
	}

	header := fmt.Sprintf("A new email was sent from %s.", sender)
	if isInThread {
		header = fmt.Sprintf("A new email was sent from %s (thread).", sender)
	}

	summaryBlock := d.summarizer.Summarize(ctx, normalized)
	summaryText := d.buildSummaryDisplay(header, summaryBlock)
	fullText := d.buildFullDisplay(header, FormatFullBody(content))

	view := &EmailView{
		ID:              uuid.NewString(),
		SummaryText:     summaryText,
		FullText:        fullText,
		SenderName:      sender,
		SourceMessageID: messageID,
	}

	// Without a stored view the buttons would dangle, so degrade to a plain
	// notification instead of failing the event.
	keyboard := summaryKeyboard(view.ID)
	if err := d.store.SaveView(view); err != nil {
		logrus.Warnf("Failed to store email view for message %s: %v", messageID, err)
		keyboard = nil
	}

	chatIDs, err := d.store.Subscribers()
	if err != nil {
		logrus.Warnf("Failed to load subscribers: %v", err)
		return StatusSkipped, nil
	}
	d.metrics.ActiveSubscribers.Set(float64(len(chatIDs)))
	if len(chatIDs) == 0 {
		logrus.Debugf("No subscribers registered, skipping dispatch for %s", messageID)
		return StatusSkipped, nil
	}

	for _, chatID := range chatIDs {
		if _, err := d.chat.SendMessage(ctx, chatID, summaryText, keyboard); err != nil {
			logrus.Warnf("Failed to notify chat %d: %v", chatID, err)
		}
	}

	logrus.Infof("Dispatched notification for message from %s to %d subscriber(s)", sender, len(chatIDs))
	return StatusDispatched, nil
}

// buildSummaryDisplay renders the condensed notification text
func (d *Dispatcher) buildSummaryDisplay(header, summaryBlock string) string {
	return fmt.Sprintf("<b>%s</b>\n\n<b>📧 Email Summary:</b>\n\n%s",
		escapeTelegramHTML(header), escapeTelegramHTML(summaryBlock))
}

// buildFullDisplay renders the full-body view, truncated to the Telegram
// message-length limit.
func (d *Dispatcher) buildFullDisplay(header, formattedBody string) string {
	prefix := fmt.Sprintf("<b>%s</b>\n\n<b>Full email:</b>\n\n", escapeTelegramHTML(header))

	body := escapeTelegramHTML(formattedBody)
	limit := d.maxMessageLength - len([]rune(prefix))
	if limit < 0 {
		limit = 0
	}
	return prefix + truncateRunes(body, limit, truncationSuffix)
}
