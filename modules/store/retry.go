package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/live-chat/domain/chat"
)

// Retrying wraps a MessageStore and retries transient failures with
// exponential backoff. Exhausted retries surface as ErrStorageUnavailable.
type Retrying struct {
	next     chat.MessageStore
	attempts int
	backoff  time.Duration
	logger   types.Logger
}

var _ chat.MessageStore = (*Retrying)(nil)

// NewRetrying creates a retrying decorator around next.
func NewRetrying(next chat.MessageStore, attempts int, backoff time.Duration, logger types.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger,
	}
}

// LoadRecent implements chat.MessageStore.
func (r *Retrying) LoadRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	var out []chat.Message
	err := r.do(ctx, "load-recent", func() error {
		var err error
		out, err = r.next.LoadRecent(ctx, limit)
		return err
	})
	return out, err
}

// Append implements chat.MessageStore.
func (r *Retrying) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	// Fix the id up front so a retry after a lost acknowledgement hits the
	// unique index, where the repository returns the already stored row.
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	var out chat.Message
	err := r.do(ctx, "append", func() error {
		var err error
		out, err = r.next.Append(ctx, msg)
		return err
	})
	return out, err
}

// ToggleLike implements chat.MessageStore.
func (r *Retrying) ToggleLike(ctx context.Context, messageID string, liker chat.Liker) (chat.Message, error) {
	var out chat.Message
	err := r.do(ctx, "toggle-like", func() error {
		var err error
		out, err = r.next.ToggleLike(ctx, messageID, liker)
		return err
	})
	return out, err
}

// EditContent implements chat.MessageStore.
func (r *Retrying) EditContent(ctx context.Context, messageID, content string) (chat.Message, bool, error) {
	var (
		out     chat.Message
		changed bool
	)
	err := r.do(ctx, "edit-content", func() error {
		var err error
		out, changed, err = r.next.EditContent(ctx, messageID, content)
		return err
	})
	return out, changed, err
}

// Delete implements chat.MessageStore.
func (r *Retrying) Delete(ctx context.Context, messageID string) error {
	return r.do(ctx, "delete", func() error {
		return r.next.Delete(ctx, messageID)
	})
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			wait := r.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, ctx.Err())
			case <-time.After(wait):
			}
		}

		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if r.logger != nil {
			r.logger.Warn("Store operation failed", "op", op, "attempt", attempt+1, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, lastErr)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, chat.ErrNotFound),
		errors.Is(err, chat.ErrInvalidInput),
		errors.Is(err, chat.ErrStorageUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
