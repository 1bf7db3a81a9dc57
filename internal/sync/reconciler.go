package sync

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys.
const (
	CheckpointUser         = "user_id"
	CheckpointChatList     = "last_chat_list_at"
	CheckpointLastMessage  = "last_message_id"
	checkpointThreadPrefix = "last_thread_at:"
)

// ThreadCheckpoint is the checkpoint key for one conversation snapshot.
func ThreadCheckpoint(friendID int64) string {
	return checkpointThreadPrefix + strconv.FormatInt(friendID, 10)
}

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logging.OrNop(logger)}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. A missing key reads as "".
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Stamp records now as the value of key.
func (r *Reconciler) Stamp(key string) error {
	return r.UpdateCheckpoint(key, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// BindUser makes the cache belong to userID. When it held another user's
// data it is cleared first. Reports whether a reset happened.
func (r *Reconciler) BindUser(userID int64) (bool, error) {
	prev, err := r.GetCheckpoint(CheckpointUser)
	if err != nil {
		return false, err
	}
	want := strconv.FormatInt(userID, 10)
	if prev == want {
		return false, nil
	}
	reset := prev != ""
	if reset {
		if err := r.db.Reset(); err != nil {
			return false, err
		}
		r.logger.Info("cache cleared for new user", zap.String("previous", prev), zap.Int64("user_id", userID))
	}
	return reset, r.UpdateCheckpoint(CheckpointUser, want)
}
