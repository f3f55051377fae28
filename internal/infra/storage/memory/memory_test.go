package memory

import (
	"context"
	"testing"
	"time"

	"github.com/trminhdn/signalflow/internal/core/domain"
)

func TestRunRepo_RecentRunsNewestFirst(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewRunRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		run := &domain.RunReport{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := repo.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("Expected newest-first order [c b], got [%s %s]", runs[0].ID, runs[1].ID)
	}
}

func TestRunRepo_DeleteRunsBefore(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewRunRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 4 {
		run := &domain.RunReport{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	deleted, err := repo.DeleteRunsBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DeleteRunsBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	runs, err := repo.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 remaining runs, got %d", len(runs))
	}
}

func TestSignalRepo_LatestBySymbol(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewSignalRepo(store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := []domain.TradingSignal{
		{ID: "1", Symbol: "AAPL", GeneratedAt: base},
		{ID: "2", Symbol: "MSFT", GeneratedAt: base.Add(time.Minute)},
		{ID: "3", Symbol: "AAPL", GeneratedAt: base.Add(2 * time.Minute)},
	}
	if err := repo.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	signals, err := repo.LatestBySymbol(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("LatestBySymbol failed: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("Expected 2 signals, got %d", len(signals))
	}
	if signals[0].ID != "3" {
		t.Errorf("Expected newest signal first, got %s", signals[0].ID)
	}
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	snaps := NewSnapshotStore(store)
	ctx := context.Background()

	err := snaps.SetQuotes(ctx, map[string]domain.MarketSnapshot{
		"AAPL": {Symbol: "AAPL", Price: 191.5},
	})
	if err != nil {
		t.Fatalf("SetQuotes failed: %v", err)
	}

	quotes, err := snaps.Quotes(ctx, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("Quotes failed: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("Expected 1 quote, got %d", len(quotes))
	}
	if quotes["AAPL"].Price != 191.5 {
		t.Errorf("Expected price 191.5, got %v", quotes["AAPL"].Price)
	}

	sentiment, err := snaps.Sentiment(ctx)
	if err != nil {
		t.Fatalf("Sentiment failed: %v", err)
	}
	if sentiment != nil {
		t.Errorf("Expected nil sentiment before any write, got %+v", sentiment)
	}

	if err := snaps.SetSentiment(ctx, &domain.MarketSentiment{Score: 0.4, Label: domain.SentimentBullish}); err != nil {
		t.Fatalf("SetSentiment failed: %v", err)
	}
	sentiment, err = snaps.Sentiment(ctx)
	if err != nil {
		t.Fatalf("Sentiment failed: %v", err)
	}
	if sentiment == nil || sentiment.Score != 0.4 {
		t.Errorf("Expected cached sentiment score 0.4, got %+v", sentiment)
	}
}
