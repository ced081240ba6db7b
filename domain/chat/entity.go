package chat

import "time"

// Avatar is a denormalized reference to a user's profile picture.
type Avatar struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   Avatar `json:"avatar"`
}

// Connection is a live client connection. It is never persisted.
type Connection struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// TypingState tracks whether a user is currently typing.
type TypingState struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsTyping  bool      `json:"isTyping"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sender is the identity snapshot captured when a message is sent.
type Sender struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   Avatar `json:"avatar"`
}

// Liker is the identity snapshot captured when a user likes a message.
type Liker struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   Avatar `json:"avatar"`
}

// Message represents a chat message.
type Message struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Edited    bool      `json:"edited"`
	Likers    []Liker   `json:"likers"`
}

// SenderOf snapshots an identity as a message sender.
func SenderOf(id Identity) Sender {
	return Sender{UserID: id.UserID, Username: id.Username, Avatar: id.Avatar}
}

// LikerOf snapshots an identity as a liker.
func LikerOf(id Identity) Liker {
	return Liker{UserID: id.UserID, Username: id.Username, Avatar: id.Avatar}
}

// HasLiker reports whether userID appears in the message's liker set.
func (m *Message) HasLiker(userID string) bool {
	for _, l := range m.Likers {
		if l.UserID == userID {
			return true
		}
	}
	return false
}
