package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// BlockRepository stores directed block edges. The core only consumes block
// existence; edges are written by the block-list collaborator endpoints.
type BlockRepository interface {
	CreateBlock(ctx context.Context, blockerID int, blockedID int) error
	DeleteBlock(ctx context.Context, blockerID int, blockedID int) error
	BlockedEitherWay(ctx context.Context, userA int, userB int) (bool, error)
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// CreateBlock records a directed block edge; idempotent.
func (r *BlockRepo) CreateBlock(ctx context.Context, blockerID int, blockedID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO block_relations (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, blockerID, blockedID)
	return err
}

// DeleteBlock removes a directed block edge.
func (r *BlockRepo) DeleteBlock(ctx context.Context, blockerID int, blockedID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM block_relations WHERE blocker_id=$1 AND blocked_id=$2`, blockerID, blockedID)
	return err
}

// BlockedEitherWay reports whether a block exists in either direction.
func (r *BlockRepo) BlockedEitherWay(ctx context.Context, userA int, userB int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM block_relations
        WHERE (blocker_id=$1 AND blocked_id=$2) OR (blocker_id=$2 AND blocked_id=$1))`, userA, userB)
	return exists, err
}
