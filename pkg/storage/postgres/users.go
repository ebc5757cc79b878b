package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/accesscore/pkg/storage"
)

// UserStore answers identity questions the bearer middleware needs
type UserStore struct {
	cm *ConnectionManager
}

// NewUserStore creates a user store
func NewUserStore(cm *ConnectionManager) *UserStore {
	return &UserStore{cm: cm}
}

// IsModerator reports the user's moderator flag. Unknown users are not moderators.
func (s *UserStore) IsModerator(ctx context.Context, userID int64) (bool, error) {
	var isModerator bool
	err := s.cm.Replica().QueryRowContext(ctx,
		"SELECT is_moderator FROM users WHERE id = $1", userID,
	).Scan(&isModerator)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap(backend, "is_moderator", err)
	}
	return isModerator, nil
}
