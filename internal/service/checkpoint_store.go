package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/models"
)

// RecordWriter upserts a batch atomically
type RecordWriter interface {
	UpsertBatch(ctx context.Context, accountID string, objectType models.ObjectType, records []models.RemoteRecord) (int, error)
}

// CheckpointWriter moves a pairing's checkpoint forward
type CheckpointWriter interface {
	AdvanceCheckpoint(ctx context.Context, stateID string, ts time.Time) error
}

// CommitResult reports one committed batch
type CommitResult struct {
	Committed  int
	Checkpoint *time.Time
}

// CheckpointStore commits batches and only then advances the checkpoint.
type CheckpointStore struct {
	records RecordWriter
	states  CheckpointWriter
}

func NewCheckpointStore(records RecordWriter, states CheckpointWriter) *CheckpointStore {
	return &CheckpointStore{records: records, states: states}
}

// CommitBatch upserts records in one transaction, then records candidate as the
// pairing's checkpoint. A nil candidate leaves the checkpoint alone. If the upsert
// fails nothing is written and the checkpoint is untouched.
func (s *CheckpointStore) CommitBatch(ctx context.Context, state *models.SyncState, records []models.RemoteRecord, candidate *time.Time) (*CommitResult, error) {
	committed, err := s.records.UpsertBatch(ctx, state.AccountID, state.ObjectType, records)
	if err != nil {
		return nil, err
	}

	if candidate != nil {
		if err := s.states.AdvanceCheckpoint(ctx, state.ID, *candidate); err != nil {
			return nil, fmt.Errorf("batch committed but checkpoint not advanced: %w", err)
		}
	}

	return &CommitResult{Committed: committed, Checkpoint: candidate}, nil
}
