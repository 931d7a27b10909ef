package memory_test

import (
	"context"
	"testing"
	"time"

	"turing-study/internal/store/memory"
	"turing-study/internal/store/storetest"
	"turing-study/internal/study"
)

func TestMemoryRepositoryContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) study.Repository { return memory.New() })
}

func TestMemoryDropoutsGetIDs(t *testing.T) {
	repo := memory.New()
	if err := repo.RecordDropout(context.Background(), study.DroppedParticipant{ParticipantID: "p1", Reason: "abandoned", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := repo.Dropouts(context.Background(), "p1")
	if err != nil {
		t.Fatalf("dropouts: %v", err)
	}
	if len(got) != 1 || got[0].ID == "" {
		t.Fatalf("unexpected dropouts: %+v", got)
	}
}
