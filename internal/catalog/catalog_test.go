package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openlegis/billchat/internal/apperr"
	"github.com/openlegis/billchat/internal/legiscan"
	"github.com/openlegis/billchat/internal/storage"
)

type mockSource struct {
	masterListCalls atomic.Int32
	masterListFn    func(ctx context.Context, state string) ([]legiscan.BillSummary, error)
	getBillFn       func(ctx context.Context, billID int64) (legiscan.BillStatus, error)
	getBillTextFn   func(ctx context.Context, docID int64) (legiscan.BillDoc, error)
}

func (m *mockSource) GetMasterList(ctx context.Context, state string) ([]legiscan.BillSummary, error) {
	m.masterListCalls.Add(1)
	return m.masterListFn(ctx, state)
}

func (m *mockSource) GetBill(ctx context.Context, billID int64) (legiscan.BillStatus, error) {
	return m.getBillFn(ctx, billID)
}

func (m *mockSource) GetBillText(ctx context.Context, docID int64) (legiscan.BillDoc, error) {
	return m.getBillTextFn(ctx, docID)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func summaries(n int) []legiscan.BillSummary {
	out := make([]legiscan.BillSummary, n)
	for i := range out {
		out[i] = legiscan.BillSummary{
			BillID: int64(1000 + i),
			Number: fmt.Sprintf("AB%d", i+1),
			Title:  fmt.Sprintf("Bill %d", i+1),
		}
	}
	return out
}

func TestListBillsPopulatesOnceAndTruncates(t *testing.T) {
	store := openTestStore(t)
	src := &mockSource{
		masterListFn: func(_ context.Context, state string) ([]legiscan.BillSummary, error) {
			if state != "CA" {
				t.Errorf("state = %q, want CA", state)
			}
			return summaries(150), nil
		},
	}
	c := New(store, src, "CA")

	bills, err := c.ListBills(context.Background())
	if err != nil {
		t.Fatalf("ListBills: %v", err)
	}
	if len(bills) != 100 {
		t.Fatalf("got %d bills, want truncation to 100", len(bills))
	}
	for i := 1; i < len(bills); i++ {
		if bills[i].BillID <= bills[i-1].BillID {
			t.Fatalf("bills not ascending at index %d", i)
		}
	}

	// Cache hit: repeated calls never reach upstream again.
	for range 5 {
		if _, err := c.ListBills(context.Background()); err != nil {
			t.Fatalf("ListBills on warm cache: %v", err)
		}
	}
	if got := src.masterListCalls.Load(); got != 1 {
		t.Errorf("master list fetched %d times, want 1", got)
	}
}

func TestListBillsConcurrentMissesShareOneRefill(t *testing.T) {
	store := openTestStore(t)
	src := &mockSource{
		masterListFn: func(ctx context.Context, _ string) ([]legiscan.BillSummary, error) {
			time.Sleep(50 * time.Millisecond) // widen the race window
			return summaries(10), nil
		},
	}
	c := New(store, src, "CA")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.ListBills(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := src.masterListCalls.Load(); got != 1 {
		t.Errorf("master list fetched %d times under concurrent misses, want 1", got)
	}
	n, _ := store.CountBills()
	if n != 10 {
		t.Errorf("CountBills = %d, want 10", n)
	}
}

func TestListBillsUpstreamFailureLeavesCacheEmpty(t *testing.T) {
	store := openTestStore(t)
	src := &mockSource{
		masterListFn: func(context.Context, string) ([]legiscan.BillSummary, error) {
			return nil, fmt.Errorf("%w: boom", apperr.ErrUpstream)
		},
	}
	c := New(store, src, "CA")

	if _, err := c.ListBills(context.Background()); !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want apperr.ErrUpstream", err)
	}
	n, _ := store.CountBills()
	if n != 0 {
		t.Errorf("CountBills = %d after failed populate, want 0", n)
	}
}

func TestListBillsFlattensTags(t *testing.T) {
	store := openTestStore(t)
	seed := []storage.Bill{
		{BillID: 1, Number: "AB1", ChangeHash: "h"},
		{BillID: 2, Number: "AB2", ChangeHash: "h"},
		{BillID: 3, Number: "AB3", ChangeHash: "h"},
	}
	if err := store.ReplaceBills(seed); err != nil {
		t.Fatalf("ReplaceBills: %v", err)
	}
	if err := store.UpdateBillTags(1, `{"tags":[{"tag":"health","confidence":0.9},{"tag":"education","confidence":0.8}]}`, 0); err != nil {
		t.Fatalf("UpdateBillTags: %v", err)
	}
	// Bill 2 carries junk tags (legacy rows); projection must degrade to "".
	if err := store.UpdateBillTags(2, `not json at all`, 0); err != nil {
		t.Fatalf("UpdateBillTags: %v", err)
	}

	src := &mockSource{} // warm cache; upstream must not be touched
	c := New(store, src, "CA")

	bills, err := c.ListBills(context.Background())
	if err != nil {
		t.Fatalf("ListBills: %v", err)
	}
	if bills[0].Tags != "health, education" {
		t.Errorf("bills[0].Tags = %q, want %q", bills[0].Tags, "health, education")
	}
	if bills[1].Tags != "" {
		t.Errorf("bills[1].Tags = %q, want empty for malformed tags", bills[1].Tags)
	}
	if bills[2].Tags != "" {
		t.Errorf("bills[2].Tags = %q, want empty for untagged", bills[2].Tags)
	}
}

func TestFetchBillText(t *testing.T) {
	store := openTestStore(t)
	if err := store.ReplaceBills([]storage.Bill{{BillID: 42, Number: "SB7", ChangeHash: "h"}}); err != nil {
		t.Fatalf("ReplaceBills: %v", err)
	}

	src := &mockSource{
		getBillFn: func(_ context.Context, billID int64) (legiscan.BillStatus, error) {
			return legiscan.BillStatus{
				BillID: billID,
				Texts:  []legiscan.DocRef{{DocID: 900, StateLink: "https://example.gov/sb7.html"}},
			}, nil
		},
		getBillTextFn: func(_ context.Context, docID int64) (legiscan.BillDoc, error) {
			if docID != 900 {
				t.Errorf("docID = %d, want 900", docID)
			}
			return legiscan.BillDoc{DocID: docID, StateLink: "https://example.gov/sb7.html", Doc: "ZG9j"}, nil
		},
	}
	c := New(store, src, "CA")

	url, err := c.FetchBillText(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchBillText: %v", err)
	}
	if url != "https://example.gov/sb7.html" {
		t.Errorf("url = %q", url)
	}

	bill, err := store.GetBill(42)
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if bill.Doc != "ZG9j" {
		t.Errorf("Doc = %q, want persisted document", bill.Doc)
	}
}

func TestFetchBillTextNoReferences(t *testing.T) {
	store := openTestStore(t)
	if err := store.ReplaceBills([]storage.Bill{{BillID: 42, Number: "SB7", ChangeHash: "h"}}); err != nil {
		t.Fatalf("ReplaceBills: %v", err)
	}

	src := &mockSource{
		getBillFn: func(_ context.Context, billID int64) (legiscan.BillStatus, error) {
			return legiscan.BillStatus{BillID: billID}, nil
		},
	}
	c := New(store, src, "CA")

	if _, err := c.FetchBillText(context.Background(), 42); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want apperr.ErrNotFound", err)
	}
}

func TestFetchBillTextUnknownBill(t *testing.T) {
	store := openTestStore(t)
	c := New(store, &mockSource{}, "CA")

	if _, err := c.FetchBillText(context.Background(), 404); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want apperr.ErrNotFound", err)
	}
}
