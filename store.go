package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record is missing, expired, or fails
// validation on read.
var ErrNotFound = errors.New("record not found")

// Store is the durable state layer. Every cross-request coordination point
// (dedup markers, views, sessions, subscribers, subscription metadata) lives
// here; per-row writes are the only synchronization primitive the service
// relies on. TTLs are enforced on read, with a background purge sweeping
// expired rows.
type Store struct {
	db           *gorm.DB
	viewTTL      time.Duration
	sessionTTL   time.Duration
	processedTTL time.Duration
}

// NewStore creates a store with the configured TTLs
func NewStore(db *gorm.DB, config *BotConfig) *Store {
	return &Store{
		db:           db,
		viewTTL:      config.ViewTTL,
		sessionTTL:   config.SessionTTL,
		processedTTL: config.ProcessedTTL,
	}
}

// MarkProcessed attempts to claim a mail-change event. The insert against the
// unique message-id index is the whole idempotency gate: it returns
// (true, nil) when this call claimed the event, (false, nil) when another
// delivery already did, and an error for anything else.
func (s *Store) MarkProcessed(messageID string) (bool, error) {
	marker := ProcessedNotification{
		MessageID:   messageID,
		ProcessedAt: time.Now(),
	}

	err := s.db.Create(&marker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create processed marker: %w", err)
	}
	return true, nil
}

// SaveView persists an email view snapshot
func (s *Store) SaveView(view *EmailView) error {
	if err := s.db.Create(view).Error; err != nil {
		return fmt.Errorf("failed to save email view: %w", err)
	}
	return nil
}

// GetView loads a view by id. Expired views count as not found and are
// deleted best-effort.
func (s *Store) GetView(id string) (*EmailView, error) {
	var view EmailView
	if err := s.db.First(&view, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load email view: %w", err)
	}

	if time.Since(view.CreatedAt) > s.viewTTL {
		if err := s.db.Delete(&EmailView{}, "id = ?", id).Error; err != nil {
			logrus.Warnf("Failed to delete expired view %s: %v", id, err)
		}
		return nil, ErrNotFound
	}
	return &view, nil
}

// SaveSession upserts the chat's reply session. One row per chat: writing a
// new session over an existing one is the last-writer-wins overwrite the
// reply flow depends on.
func (s *Store) SaveSession(session *ReplySession) error {
	session.UpdatedAt = time.Now()
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(session).Error
	if err != nil {
		return fmt.Errorf("failed to save reply session: %w", err)
	}
	return nil
}

// GetSession loads the chat's active session. Expired or malformed rows fail
// closed: they are deleted and reported as not found.
func (s *Store) GetSession(chatID int64) (*ReplySession, error) {
	var session ReplySession
	if err := s.db.First(&session, "chat_id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load reply session: %w", err)
	}

	if time.Since(session.UpdatedAt) > s.sessionTTL || !session.ValidMode() || session.ViewID == "" {
		if err := s.DeleteSession(chatID); err != nil {
			logrus.Warnf("Failed to delete stale session for chat %d: %v", chatID, err)
		}
		return nil, ErrNotFound
	}
	return &session, nil
}

// DeleteSession removes the chat's session if present
func (s *Store) DeleteSession(chatID int64) error {
	if err := s.db.Delete(&ReplySession{}, "chat_id = ?", chatID).Error; err != nil {
		return fmt.Errorf("failed to delete reply session: %w", err)
	}
	return nil
}

// Subscribers returns all registered chat ids in registration order
func (s *Store) Subscribers() ([]int64, error) {
	var subs []Subscriber
	if err := s.db.Order("created_at").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}

	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ChatID)
	}
	return ids, nil
}

// CountSubscribers returns the number of registered chats
func (s *Store) CountSubscribers() (int64, error) {
	var count int64
	if err := s.db.Model(&Subscriber{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return count, nil
}

// IsSubscriber reports whether the chat is registered
func (s *Store) IsSubscriber(chatID int64) (bool, error) {
	var sub Subscriber
	err := s.db.First(&sub, "chat_id = ?", chatID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check subscriber: %w", err)
	}
	return true, nil
}

// AddSubscriber registers a chat. Returns false when it was already
// registered.
func (s *Store) AddSubscriber(chatID int64) (bool, error) {
	sub := Subscriber{ChatID: chatID, CreatedAt: time.Now()}
	err := s.db.Create(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add subscriber: %w", err)
	}
	return true, nil
}

// SaveSubscriptionInfo upserts the stored Graph subscription metadata
func (s *Store) SaveSubscriptionInfo(info *SubscriptionInfo) error {
	sub := MailSubscription{
		Name:           mailSubscriptionName,
		SubscriptionID: info.ID,
		Resource:       info.Resource,
		ExpiresAt:      info.ExpiresAt,
		UpdatedAt:      time.Now(),
	}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription metadata: %w", err)
	}
	return nil
}

// GetSubscriptionInfo loads the stored Graph subscription metadata
func (s *Store) GetSubscriptionInfo() (*MailSubscription, error) {
	var sub MailSubscription
	if err := s.db.First(&sub, "name = ?", mailSubscriptionName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription metadata: %w", err)
	}
	return &sub, nil
}

// LogDispatch records the outcome of processing one mail notification
func (s *Store) LogDispatch(messageID, status, errorMsg string) {
	entry := DispatchLog{
		MessageID: messageID,
		Status:    status,
		ErrorMsg:  errorMsg,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		logrus.Warnf("Failed to write dispatch log for %s: %v", messageID, err)
	}
}

// PurgeExpired deletes rows past their TTL. Ran periodically by the
// scheduler; reads already treat expired rows as absent, so this only keeps
// the tables small.
func (s *Store) PurgeExpired() error {
	now := time.Now()

	if err := s.db.Delete(&ProcessedNotification{}, "processed_at < ?", now.Add(-s.processedTTL)).Error; err != nil {
		return fmt.Errorf("failed to purge processed markers: %w", err)
	}
	if err := s.db.Delete(&EmailView{}, "created_at < ?", now.Add(-s.viewTTL)).Error; err != nil {
		return fmt.Errorf("failed to purge email views: %w", err)
	}
	if err := s.db.Delete(&ReplySession{}, "updated_at < ?", now.Add(-s.sessionTTL)).Error; err != nil {
		return fmt.Errorf("failed to purge reply sessions: %w", err)
	}
	return nil
}
