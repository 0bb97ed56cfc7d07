package main

import (
	"time"
)

// ProcessedNotification marks a mail-change event as handled. Inserting the row
// is the idempotency gate: a duplicate-key error means another delivery of the
// same event already won.
type ProcessedNotification struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(512);not null;uniqueIndex"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedNotification
func (ProcessedNotification) TableName() string {
	return "processed_notifications"
}

// EmailView is the stored snapshot of a notification as rendered for Telegram.
// It joins the chat message (which gets edited in place) to the mailbox item a
// reply targets, and expires after BotConfig.ViewTTL.
type EmailView struct {
	ID              string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	SummaryText     string    `json:"summary_text" gorm:"type:text"`
	FullText        string    `json:"full_text" gorm:"type:text"`
	SenderName      string    `json:"sender_name" gorm:"type:varchar(255)"`
	SourceMessageID string    `json:"source_message_id" gorm:"type:varchar(512);not null"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName specifies the table name for EmailView
func (EmailView) TableName() string {
	return "email_views"
}

// Session modes for the reply-composition flow.
const (
	ModeAwaitingReply        = "awaiting_reply"
	ModeAwaitingEditFeedback = "awaiting_edit_feedback"
	ModeAwaitingSendEdit     = "awaiting_send_edit"
)

// ReplySession tracks one chat's progress through the reply flow. At most one
// row per chat; starting a new reply overwrites it.
type ReplySession struct {
	ChatID          int64     `json:"chat_id" gorm:"primaryKey;autoIncrement:false"`
	ViewID          string    `json:"view_id" gorm:"type:varchar(64);not null"`
	Mode            string    `json:"mode" gorm:"type:varchar(32);not null"`
	Draft           string    `json:"draft" gorm:"type:text"`
	AnchorMessageID int       `json:"anchor_message_id"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName specifies the table name for ReplySession
func (ReplySession) TableName() string {
	return "reply_sessions"
}

// ValidMode reports whether the stored mode is one of the known session modes.
// Anything else is treated as a corrupt row and fails closed.
func (s *ReplySession) ValidMode() bool {
	switch s.Mode {
	case ModeAwaitingReply, ModeAwaitingEditFeedback, ModeAwaitingSendEdit:
		return true
	}
	return false
}

// Subscriber is a Telegram chat registered for notifications
type Subscriber struct {
	ChatID    int64     `json:"chat_id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Subscriber
func (Subscriber) TableName() string {
	return "subscribers"
}

// MailSubscription stores the active Graph change-notification subscription
type MailSubscription struct {
	Name           string    `json:"name" gorm:"type:varchar(64);primaryKey"`
	SubscriptionID string    `json:"subscription_id" gorm:"type:varchar(255);not null"`
	Resource       string    `json:"resource" gorm:"type:varchar(255)"`
	ExpiresAt      time.Time `json:"expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for MailSubscription
func (MailSubscription) TableName() string {
	return "mail_subscriptions"
}

// mailSubscriptionName is the single row key; the service watches one inbox.
const mailSubscriptionName = "mail_inbox"

// DispatchLog records the outcome of processing one mail notification
type DispatchLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string    `json:"message_id" gorm:"type:varchar(512);not null;index"`
	Status    string    `json:"status" gorm:"type:varchar(50);not null"` // dispatched, failure, skipped
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for DispatchLog
func (DispatchLog) TableName() string {
	return "dispatch_logs"
}

// Dispatch log statuses
const (
	StatusDispatched = "dispatched"
	StatusFailure    = "failure"
	StatusSkipped    = "skipped"
)

// MailMessage is the fetched mailbox item as the dispatcher consumes it
type MailMessage struct {
	ID             string
	SenderName     string
	SenderAddress  string
	ContentType    string // "html" or "text"
	Content        string
	ConversationID string
}

// SubscriptionInfo is the Graph subscription as returned by the API
type SubscriptionInfo struct {
	ID        string
	Resource  string
	ExpiresAt time.Time
}

// GraphChangePayload is the body of a Graph change-notification webhook call
type GraphChangePayload struct {
	Value []GraphChangeNotification `json:"value"`
}

// GraphChangeNotification is a single change entry within a webhook delivery
type GraphChangeNotification struct {
	SubscriptionID string            `json:"subscriptionId"`
	ClientState    string            `json:"clientState"`
	ResourceData   GraphResourceData `json:"resourceData"`
}

// GraphResourceData identifies the changed mail item
type GraphResourceData struct {
	ID string `json:"id"`
}

// MessageIDs extracts the non-empty resource ids in delivery order
func (p *GraphChangePayload) MessageIDs() []string {
	var ids []string
	for _, n := range p.Value {
		if n.ResourceData.ID != "" {
			ids = append(ids, n.ResourceData.ID)
		}
	}
	return ids
}

// DispatchLogResponse is the API representation of a dispatch log entry
type DispatchLogResponse struct {
	ID        uint      `json:"id"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	ErrorMsg  string    `json:"error_msg"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionResponse is the API representation of the stored subscription
type SubscriptionResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	Resource       string    `json:"resource"`
	ExpiresAt      time.Time `json:"expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
