package chat

import (
	"time"

	domain "github.com/example/live-chat/domain/chat"
)

// Presence derives the online count and typing set. Like Registry it is
// owned by the engine's worker.
type Presence struct {
	registry *Registry
	// typing is ordered most recently set first.
	typing []domain.TypingState
	now    func() time.Time
}

// NewPresence creates a tracker backed by registry.
func NewPresence(registry *Registry) *Presence {
	return &Presence{
		registry: registry,
		now:      time.Now,
	}
}

// SetTyping upserts or clears the user's typing entry and returns the typing
// usernames. A user that is already typing keeps their entry and its
// UpdatedAt, so changed is true only when membership changed.
func (p *Presence) SetTyping(userID, username string, isTyping bool) ([]string, bool) {
	idx := p.indexOf(userID)
	switch {
	case isTyping && idx >= 0:
		if p.typing[idx].Username != username {
			p.typing[idx].Username = username
			return p.Typing(), true
		}
		return p.Typing(), false
	case isTyping:
		entry := domain.TypingState{UserID: userID, Username: username, IsTyping: true, UpdatedAt: p.now()}
		p.typing = append([]domain.TypingState{entry}, p.typing...)
		return p.Typing(), true
	case idx >= 0:
		p.typing = append(p.typing[:idx], p.typing[idx+1:]...)
		return p.Typing(), true
	default:
		return p.Typing(), false
	}
}

// OnDisconnectCleanup clears the user's typing entry if lastConnection is set.
func (p *Presence) OnDisconnectCleanup(userID string, lastConnection bool) ([]string, bool) {
	if !lastConnection {
		return p.Typing(), false
	}
	return p.SetTyping(userID, "", false)
}

// OnlineCount returns the number of distinct connected users.
func (p *Presence) OnlineCount() int {
	return p.registry.CountDistinctUsers()
}

// Typing returns the usernames currently typing, ordered by when each user
// started typing, latest first.
func (p *Presence) Typing() []string {
	names := make([]string, 0, len(p.typing))
	for _, t := range p.typing {
		names = append(names, t.Username)
	}
	return names
}

func (p *Presence) indexOf(userID string) int {
	for i, t := range p.typing {
		if t.UserID == userID {
			return i
		}
	}
	return -1
}
