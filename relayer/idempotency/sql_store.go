package idempotency

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushchain/payout-relay/relayer/db"
	"github.com/pushchain/payout-relay/relayer/store"
)

// SQLStore keeps the processed set in the relay's sqlite database, next to the
// checkpoint and the payout journal.
type SQLStore struct {
	database *db.DB
}

// NewSQLStore wraps an opened and migrated relay database.
func NewSQLStore(database *db.DB) (*SQLStore, error) {
	if database == nil {
		return nil, errors.New("database is nil")
	}
	return &SQLStore{database: database}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var row store.ProcessedEvent
	err := s.database.Client().WithContext(ctx).Where("event_key = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to load processed event %s", key)
	}
	return &Record{
		Key:        row.EventKey,
		Outcome:    row.Outcome,
		Reason:     row.Reason,
		DestTxHash: row.DestTxHash,
		RecordedAt: row.CreatedAt,
	}, nil
}

func (s *SQLStore) Save(ctx context.Context, record Record) (bool, error) {
	row := store.ProcessedEvent{
		EventKey:   record.Key,
		Outcome:    record.Outcome,
		Reason:     record.Reason,
		DestTxHash: record.DestTxHash,
	}
	if !record.RecordedAt.IsZero() {
		row.CreatedAt = record.RecordedAt
	}

	result := s.database.Client().WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_key"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, pkgerrors.Wrapf(result.Error, "failed to record processed event %s", record.Key)
	}
	return result.RowsAffected == 1, nil
}

func (s *SQLStore) Claim(ctx context.Context, key, owner string, lease time.Duration) (bool, error) {
	now := time.Now()
	row := store.EventClaim{EventKey: key, Owner: owner, ExpiresAt: now.Add(lease).UnixMilli()}

	result := s.database.Client().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "expires_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "event_claims.owner = ? OR event_claims.expires_at <= ?",
					Vars: []any{owner, now.UnixMilli()},
				},
			}},
		}).
		Create(&row)
	if result.Error != nil {
		return false, pkgerrors.Wrapf(result.Error, "failed to claim event %s", key)
	}
	return result.RowsAffected == 1, nil
}

func (s *SQLStore) Unclaim(ctx context.Context, key, owner string) error {
	err := s.database.Client().WithContext(ctx).
		Where("event_key = ? AND owner = ?", key, owner).
		Delete(&store.EventClaim{}).Error
	return pkgerrors.Wrapf(err, "failed to release claim on event %s", key)
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLStore) Close() error { return nil }
