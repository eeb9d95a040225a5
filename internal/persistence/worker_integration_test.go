package persistence_test

import (
	"context"
	"testing"
	"time"

	"StakeVault/internal/persistence"
	"StakeVault/internal/testutil"
)

// Closing the input channel must flush whatever is still batched before the
// worker exits, so shutdown never loses an operation that reached the
// channel. The batch size is larger than the row count and the flush timeout
// is long, so only the close can trigger the write.
func TestPersistenceWorker_FlushesOnChannelClose(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	inputChan := make(chan persistence.OperationRow, 16)
	worker := persistence.NewPersistenceWorker(db, inputChan, 100, time.Minute, nil)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for seq := int64(0); seq < 3; seq++ {
		inputChan <- persistence.OperationRow{
			Sequence:       seq,
			EventType:      "Staked",
			IdempotencyKey: "op-" + string(rune('a'+seq)),
			UserAddr:       "alice",
			Asset:          "GT",
			Payload:        []byte(`{"amount": 1}`),
			Timestamp:      base.Add(time.Duration(seq) * time.Second),
		}
	}
	close(inputChan)

	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker run: %v", err)
	}

	maxSeq, err := worker.GetWriter().MaxSequence(ctx)
	if err != nil {
		t.Fatalf("max sequence: %v", err)
	}
	if maxSeq != 2 {
		t.Errorf("persisted head after close: got %d, want 2", maxSeq)
	}
}
