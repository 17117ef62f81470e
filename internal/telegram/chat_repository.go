package telegram

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"diet-coach/internal/database"
)

// ErrChatNotFound is returned when a user never talked to the bot.
var ErrChatNotFound = errors.New("chat not found")

// ChatRepository remembers which chat each user talks to the bot from, so
// notices raised outside a conversation can still reach them.
type ChatRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewChatRepository creates a new ChatRepository instance
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db, now: time.Now}
}

// Save records the user's latest chat.
func (r *ChatRepository) Save(ctx context.Context, userID string, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (user_id, chat_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET chat_id = excluded.chat_id, updated_at = excluded.updated_at`,
		userID, chatID, r.now().UTC().Format(database.TimeLayout))
	return err
}

// ChatID returns the user's latest chat.
func (r *ChatRepository) ChatID(ctx context.Context, userID string) (int64, error) {
	var chatID int64
	err := r.db.QueryRowContext(ctx, `SELECT chat_id FROM chats WHERE user_id = ?`, userID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrChatNotFound
	}
	return chatID, err
}

// Count returns how many users have talked to the bot.
func (r *ChatRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
