package common

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pushchain/payout-relay/relayer/db"
	"github.com/pushchain/payout-relay/relayer/store"
)

// ChainStore persists the source-chain checkpoint
type ChainStore struct {
	database *db.DB
}

// NewChainStore creates a new chain store
func NewChainStore(database *db.DB) *ChainStore {
	return &ChainStore{
		database: database,
	}
}

// GetChainHeight returns the checkpointed block height.
// The second value is false when nothing was stored yet.
func (cs *ChainStore) GetChainHeight() (uint64, bool, error) {
	if cs.database == nil {
		return 0, false, fmt.Errorf("database is nil")
	}

	var state store.ChainState
	result := cs.database.Client().First(&state)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get chain height: %w", result.Error)
	}

	return state.LastBlock, true, nil
}

// UpdateChainHeight stores blockHeight if it is higher than the current checkpoint.
// Creates the entry if it doesn't exist.
func (cs *ChainStore) UpdateChainHeight(blockHeight uint64) error {
	if cs.database == nil {
		return fmt.Errorf("database is nil")
	}

	return cs.database.Client().Transaction(func(tx *gorm.DB) error {
		var state store.ChainState
		result := tx.First(&state)
		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				if err := tx.Create(&store.ChainState{LastBlock: blockHeight}).Error; err != nil {
					return fmt.Errorf("failed to create chain state: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to query chain state: %w", result.Error)
		}

		// Never move the checkpoint backwards
		if blockHeight <= state.LastBlock {
			return nil
		}
		state.LastBlock = blockHeight
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("failed to update chain height: %w", err)
		}
		return nil
	})
}
