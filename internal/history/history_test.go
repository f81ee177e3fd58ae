package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xibot/xibot/internal/domain"
	"github.com/xibot/xibot/pkg/fixedpoint"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestAppendAndRecent(t *testing.T) {
	repo := openTestRepo(t)

	rec := domain.TradeRecord{
		BotID:     "bot1",
		Direction: domain.SwapPolToXin,
		Kind:      domain.ActionSwap,
		AmountIn:  fixedpoint.MustParse("1"),
		AmountOut: fixedpoint.MustParse("0.9"),
		MinOut:    fixedpoint.MustParse("0.88"),
		TxHash:    "0xabc",
		Success:   true,
		Timestamp: time.Now(),
	}
	if err := repo.Append(rec); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	got, err := repo.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatalf("ID should be generated")
	}
	if got[0].AmountIn.Cmp(rec.AmountIn) != 0 {
		t.Fatalf("amount round trip: got=%s want=%s",
			fixedpoint.Format(got[0].AmountIn), fixedpoint.Format(rec.AmountIn))
	}
	if !got[0].Success || got[0].Direction != domain.SwapPolToXin {
		t.Fatalf("record fields mismatch: %+v", got[0])
	}
}

func TestRecentOrdering(t *testing.T) {
	repo := openTestRepo(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := repo.Append(domain.TradeRecord{
			BotID:     "bot1",
			Direction: domain.SwapPolToXin,
			Kind:      domain.ActionSwap,
			TxHash:    "0x" + string(rune('a'+i)),
			Success:   true,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := repo.Recent(2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied: %d", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Fatalf("expected newest first")
	}
}

func TestCountSince(t *testing.T) {
	repo := openTestRepo(t)

	now := time.Now()
	records := []domain.TradeRecord{
		{BotID: "bot1", Kind: domain.ActionSwap, Success: true, Timestamp: now.Add(-2 * time.Hour)},
		{BotID: "bot1", Kind: domain.ActionSwap, Success: true, Timestamp: now.Add(-10 * time.Minute)},
		{BotID: "bot1", Kind: domain.ActionSwap, Success: false, Timestamp: now.Add(-5 * time.Minute)},
	}
	for _, rec := range records {
		if err := repo.Append(rec); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	total, failed, err := repo.CountSince(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountSince error: %v", err)
	}
	if total != 2 || failed != 1 {
		t.Fatalf("got total=%d failed=%d want 2/1", total, failed)
	}
}
