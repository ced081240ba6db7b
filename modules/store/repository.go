package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/live-chat/domain/chat"
)

// Store errors alias the domain taxonomy so callers can match either.
var (
	ErrNotFound           = chat.ErrNotFound
	ErrStorageUnavailable = chat.ErrStorageUnavailable
)

// Repository persists messages and likes with GORM.
type Repository struct {
	db *gorm.DB
}

var _ chat.MessageStore = (*Repository)(nil)

// NewRepository creates a new message repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the message tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MessageRecord{}, &LikeRecord{}); err != nil {
		return fmt.Errorf("failed to migrate message tables: %w", err)
	}
	return nil
}

// LoadRecent returns the newest limit messages in ascending sequence order.
func (r *Repository) LoadRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	var records []MessageRecord
	if err := r.db.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	ids := make([]string, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	likes, err := r.likesFor(r.db.WithContext(ctx), ids...)
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		messages = append(messages, records[i].toMessage(likes[records[i].ID]))
	}
	return messages, nil
}

// Append stores a new message. ID and CreatedAt are filled in when empty.
func (r *Repository) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	record := newMessageRecord(msg)
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.appended(ctx, record)
		}
		return chat.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return record.toMessage(nil), nil
}

// appended resolves an id collision on Append. The same message stored by an
// earlier attempt is returned as is; a different message with that id is
// rejected.
func (r *Repository) appended(ctx context.Context, want *MessageRecord) (chat.Message, error) {
	tx := r.db.WithContext(ctx)
	existing, err := findMessage(tx, want.ID)
	if err != nil {
		return chat.Message{}, err
	}
	if existing.SenderID != want.SenderID || existing.Content != want.Content {
		return chat.Message{}, fmt.Errorf("%w: message id %q already in use", chat.ErrInvalidInput, want.ID)
	}

	likes, err := r.likesFor(tx, existing.ID)
	if err != nil {
		return chat.Message{}, err
	}
	return existing.toMessage(likes[existing.ID]), nil
}

// ToggleLike adds liker to the message, or removes them if already present.
func (r *Repository) ToggleLike(ctx context.Context, messageID string, liker chat.Liker) (chat.Message, error) {
	var result chat.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := findMessage(tx, messageID)
		if err != nil {
			return err
		}

		del := tx.Where("message_id = ? AND user_id = ?", messageID, liker.UserID).Delete(&LikeRecord{})
		if err := del.Error; err != nil {
			return fmt.Errorf("failed to remove like: %w", err)
		}
		if del.RowsAffected == 0 {
			like := &LikeRecord{
				MessageID:      messageID,
				UserID:         liker.UserID,
				Username:       liker.Username,
				AvatarPath:     liker.Avatar.Path,
				AvatarFilename: liker.Avatar.Filename,
				CreatedAt:      time.Now().UTC(),
			}
			if err := tx.Create(like).Error; err != nil {
				return fmt.Errorf("failed to add like: %w", err)
			}
		}

		likes, err := r.likesFor(tx, messageID)
		if err != nil {
			return err
		}
		result = record.toMessage(likes[messageID])
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	return result, nil
}

// EditContent replaces the message content and marks it edited.
// Identical content leaves the message untouched and reports changed=false.
func (r *Repository) EditContent(ctx context.Context, messageID, content string) (chat.Message, bool, error) {
	var (
		result  chat.Message
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := findMessage(tx, messageID)
		if err != nil {
			return err
		}

		if record.Content != content {
			update := tx.Model(&MessageRecord{}).
				Where("id = ?", messageID).
				Updates(map[string]any{"content": content, "edited": true})
			if err := update.Error; err != nil {
				return fmt.Errorf("failed to edit message: %w", err)
			}
			record.Content = content
			record.Edited = true
			changed = true
		}

		likes, err := r.likesFor(tx, messageID)
		if err != nil {
			return err
		}
		result = record.toMessage(likes[messageID])
		return nil
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	return result, changed, nil
}

// Delete permanently removes a message and its likes.
func (r *Repository) Delete(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", messageID).Delete(&MessageRecord{})
		if err := result.Error; err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&LikeRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete likes: %w", err)
		}
		return nil
	})
}

func findMessage(tx *gorm.DB, messageID string) (*MessageRecord, error) {
	var record MessageRecord
	if err := tx.First(&record, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &record, nil
}

// likesFor groups likes by message id, each group ordered by like time.
func (r *Repository) likesFor(tx *gorm.DB, messageIDs ...string) (map[string][]LikeRecord, error) {
	grouped := make(map[string][]LikeRecord, len(messageIDs))
	if len(messageIDs) == 0 {
		return grouped, nil
	}

	var likes []LikeRecord
	if err := tx.Where("message_id IN ?", messageIDs).Order("id ASC").Find(&likes).Error; err != nil {
		return nil, fmt.Errorf("failed to load likes: %w", err)
	}
	for _, l := range likes {
		grouped[l.MessageID] = append(grouped[l.MessageID], l)
	}
	return grouped, nil
}

func newMessageID() string {
	return uuid.New().String()
}
