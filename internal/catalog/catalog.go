// Package catalog owns the cached bill dataset: populate once from the
// legislative data provider, then serve every read from storage.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/openlegis/billchat/internal/apperr"
	"github.com/openlegis/billchat/internal/legiscan"
	"github.com/openlegis/billchat/internal/storage"
	"github.com/openlegis/billchat/internal/tagging"
)

// maxBills caps how much of the upstream master list is cached.
const maxBills = 100

// BillSource abstracts the legislative data gateway.
type BillSource interface {
	GetMasterList(ctx context.Context, state string) ([]legiscan.BillSummary, error)
	GetBill(ctx context.Context, billID int64) (legiscan.BillStatus, error)
	GetBillText(ctx context.Context, docID int64) (legiscan.BillDoc, error)
}

// BillStore abstracts the persistence operations the catalog needs.
type BillStore interface {
	CountBills() (int, error)
	ListBills() ([]storage.Bill, error)
	GetBill(billID int64) (storage.Bill, error)
	ReplaceBills(bills []storage.Bill) error
	UpdateBillDoc(billID int64, doc string, version int64) error
}

// Catalog serves the bill list from storage, populating it from upstream on
// first use.
type Catalog struct {
	store  BillStore
	source BillSource
	state  string
	logger *slog.Logger

	// refill collapses concurrent cache-miss populates into one upstream
	// call so two misses can never run the destructive refill twice.
	refill singleflight.Group
}

// New creates a Catalog for the given state's legislature.
func New(store BillStore, source BillSource, state string) *Catalog {
	return &Catalog{
		store:  store,
		source: source,
		state:  state,
		logger: slog.Default(),
	}
}

// BillListItem is the presentation-facing projection of a bill: the stored
// record with tags flattened to a comma-joined string of tag names. The
// flattened form is never persisted.
type BillListItem struct {
	storage.Bill
	Tags string `json:"tags"`
}

// ListBills returns every bill ordered by ascending bill id. On a cache hit
// (any rows present) storage is authoritative and no upstream call is made.
// On a miss the catalog populates itself from the provider's master list,
// truncated to the first 100 records.
func (c *Catalog) ListBills(ctx context.Context) ([]BillListItem, error) {
	count, err := c.store.CountBills()
	if err != nil {
		return nil, fmt.Errorf("counting bills: %w", err)
	}
	if count == 0 {
		if _, err, _ := c.refill.Do("refill", func() (any, error) {
			return nil, c.populate(ctx)
		}); err != nil {
			return nil, err
		}
	}

	bills, err := c.store.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}

	items := make([]BillListItem, len(bills))
	for i, b := range bills {
		items[i] = BillListItem{Bill: b, Tags: flattenTags(b.Tags)}
	}
	return items, nil
}

// populate fetches the master list and swaps it into storage. A gateway
// failure leaves the existing cache untouched.
func (c *Catalog) populate(ctx context.Context) error {
	// Another caller may have finished the refill while this one waited on
	// the singleflight group.
	count, err := c.store.CountBills()
	if err != nil {
		return fmt.Errorf("counting bills: %w", err)
	}
	if count > 0 {
		return nil
	}

	summaries, err := c.source.GetMasterList(ctx, c.state)
	if err != nil {
		return fmt.Errorf("fetching master list: %w", err)
	}
	if len(summaries) > maxBills {
		summaries = summaries[:maxBills]
	}

	bills := make([]storage.Bill, len(summaries))
	for i, s := range summaries {
		bills[i] = storage.Bill{
			BillID:         s.BillID,
			Number:         s.Number,
			Title:          s.Title,
			Description:    s.Description,
			URL:            s.URL,
			Status:         s.Status,
			StatusDate:     s.StatusDate,
			LastAction:     s.LastAction,
			LastActionDate: s.LastActionDate,
			ChangeHash:     s.ChangeHash,
		}
	}

	if err := c.store.ReplaceBills(bills); err != nil {
		return fmt.Errorf("replacing bills: %w", err)
	}
	c.logger.Info("bill catalog populated", "state", c.state, "bills", len(bills))
	return nil
}

func flattenTags(raw string) string {
	if raw == "" {
		return ""
	}
	ts, err := tagging.ParseTagSet(raw)
	if err != nil {
		return ""
	}
	return ts.Names()
}

// FetchBillText resolves the bill's first published document, persists the
// encoded document on the bill row, and returns the externally viewable URL.
// It always re-fetches from upstream; the stored document is only the latest
// download. A bill with no document references yields apperr.ErrNotFound.
func (c *Catalog) FetchBillText(ctx context.Context, billID int64) (string, error) {
	if _, err := c.store.GetBill(billID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: bill %d", apperr.ErrNotFound, billID)
		}
		return "", fmt.Errorf("loading bill %d: %w", billID, err)
	}

	status, err := c.source.GetBill(ctx, billID)
	if err != nil {
		return "", fmt.Errorf("fetching bill %d status: %w", billID, err)
	}
	if len(status.Texts) == 0 {
		return "", fmt.Errorf("%w: bill %d has no text available", apperr.ErrNotFound, billID)
	}

	doc, err := c.source.GetBillText(ctx, status.Texts[0].DocID)
	if err != nil {
		return "", fmt.Errorf("fetching bill %d document: %w", billID, err)
	}

	if err := c.saveDoc(billID, doc.Doc); err != nil {
		return "", err
	}
	return doc.StateLink, nil
}

// saveDoc writes the document with a compare-and-swap, retrying once if a
// concurrent tag write moved the row's version.
func (c *Catalog) saveDoc(billID int64, doc string) error {
	for attempt := 0; attempt < 2; attempt++ {
		bill, err := c.store.GetBill(billID)
		if err != nil {
			return fmt.Errorf("reloading bill %d: %w", billID, err)
		}
		err = c.store.UpdateBillDoc(billID, doc, bill.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("saving bill %d document: %w", billID, err)
		}
		c.logger.Debug("document write conflicted, retrying", "bill_id", billID)
	}
	return fmt.Errorf("saving bill %d document: %w", billID, storage.ErrConflict)
}
