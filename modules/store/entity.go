package store

import (
	"time"

	"github.com/example/live-chat/domain/chat"
)

// MessageRecord is the persisted form of a chat message.
// Seq is assigned by the database and defines the total order of the room.
type MessageRecord struct {
	Seq                  uint64    `gorm:"primaryKey;autoIncrement"`
	ID                   string    `gorm:"size:36;uniqueIndex;not null"`
	SenderID             string    `gorm:"size:64;index;not null"`
	SenderUsername       string    `gorm:"size:100;not null"`
	SenderAvatarPath     string    `gorm:"size:255"`
	SenderAvatarFilename string    `gorm:"size:255"`
	Content              string    `gorm:"type:text;not null"`
	Edited               bool      `gorm:"not null;default:false"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

// LikeRecord is one user's like on a message.
type LikeRecord struct {
	ID             uint      `gorm:"primaryKey"`
	MessageID      string    `gorm:"size:36;not null;uniqueIndex:idx_like_message_user"`
	UserID         string    `gorm:"size:64;not null;uniqueIndex:idx_like_message_user"`
	Username       string    `gorm:"size:100;not null"`
	AvatarPath     string    `gorm:"size:255"`
	AvatarFilename string    `gorm:"size:255"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for LikeRecord.
func (LikeRecord) TableName() string {
	return "message_likes"
}

func newMessageRecord(msg chat.Message) *MessageRecord {
	return &MessageRecord{
		ID:                   msg.ID,
		SenderID:             msg.Sender.UserID,
		SenderUsername:       msg.Sender.Username,
		SenderAvatarPath:     msg.Sender.Avatar.Path,
		SenderAvatarFilename: msg.Sender.Avatar.Filename,
		Content:              msg.Content,
		Edited:               msg.Edited,
		CreatedAt:            msg.CreatedAt,
	}
}

func (r *MessageRecord) toMessage(likes []LikeRecord) chat.Message {
	likers := make([]chat.Liker, 0, len(likes))
	for _, l := range likes {
		likers = append(likers, chat.Liker{
			UserID:   l.UserID,
			Username: l.Username,
			Avatar:   chat.Avatar{Path: l.AvatarPath, Filename: l.AvatarFilename},
		})
	}
	return chat.Message{
		ID:  r.ID,
		Seq: r.Seq,
		Sender: chat.Sender{
			UserID:   r.SenderID,
			Username: r.SenderUsername,
			Avatar:   chat.Avatar{Path: r.SenderAvatarPath, Filename: r.SenderAvatarFilename},
		},
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Edited:    r.Edited,
		Likers:    likers,
	}
}
