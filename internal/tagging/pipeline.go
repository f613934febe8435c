// Package tagging annotates cached bills with AI-generated topic tags.
//
// The pipeline is a single sequential consumer: one bill at a time, with a
// minimum inter-call interval pacing it under the completion provider's rate
// limits. It is restartable by design — already-tagged bills are always
// skipped, so a failed run resumes where it left off.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openlegis/billchat/internal/doctext"
	"github.com/openlegis/billchat/internal/legiscan"
	"github.com/openlegis/billchat/internal/storage"
)

const defaultInterval = 3 * time.Second

// classifyPrompt asks for exactly five tags as a JSON object. Confidence is
// constrained to [0,1]; the response is validated before persisting.
const classifyPrompt = `Provide 5 tags for this bill and a numeric confidence value between 0-1. Return as a JSON object like this example: {
  "tags": [
    { "tag": "health", "confidence": 0.9 },
    { "tag": "education", "confidence": 0.8 },
    { "tag": "environment", "confidence": 0.7 },
    { "tag": "economy", "confidence": 0.6 },
    { "tag": "crime", "confidence": 0.5 }
  ]
}`

// classifyTemperature favors deterministic tag output.
const classifyTemperature = 0.2

// DocSource resolves bill documents from the legislative data gateway.
type DocSource interface {
	GetBill(ctx context.Context, billID int64) (legiscan.BillStatus, error)
	GetBillText(ctx context.Context, docID int64) (legiscan.BillDoc, error)
}

// Completer generates text completions.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// TagStore abstracts the persistence operations the pipeline needs.
type TagStore interface {
	ListUntaggedBills() ([]storage.Bill, error)
	GetBill(billID int64) (storage.Bill, error)
	UpdateBillTags(billID int64, tags string, version int64) error
}

// Pipeline tags every untagged bill in the catalog.
type Pipeline struct {
	store    TagStore
	source   DocSource
	ai       Completer
	interval time.Duration
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. If interval is <= 0, it defaults to 3s.
func NewPipeline(store TagStore, source DocSource, ai Completer, interval time.Duration) *Pipeline {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Pipeline{
		store:    store,
		source:   source,
		ai:       ai,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run tags all currently untagged bills, one at a time. A gateway or
// completion failure aborts the run; bills tagged before the failure keep
// their tags and the next run picks up the remainder. Bills that cannot be
// tagged for data reasons (no document, malformed tag output) are skipped
// and logged, never fatal.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)

	bills, err := p.store.ListUntaggedBills()
	if err != nil {
		return fmt.Errorf("listing untagged bills: %w", err)
	}
	logger.Info("tagging run started", "untagged", len(bills))

	tagged, skipped := 0, 0
	for _, bill := range bills {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := p.tagBill(ctx, logger, bill)
		if err != nil {
			logger.Error("tagging run aborted", "bill_id", bill.BillID, "tagged", tagged, "error", err)
			return fmt.Errorf("tagging bill %d: %w", bill.BillID, err)
		}
		if ok {
			tagged++
		} else {
			skipped++
		}

		// Pace the next upstream call regardless of this bill's outcome.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}

	logger.Info("tagging run finished", "tagged", tagged, "skipped", skipped)
	return nil
}

// tagBill annotates a single bill. It reports whether tags were persisted;
// a false return with nil error means the bill was skipped.
func (p *Pipeline) tagBill(ctx context.Context, logger *slog.Logger, bill storage.Bill) (bool, error) {
	status, err := p.source.GetBill(ctx, bill.BillID)
	if err != nil {
		return false, err
	}
	if len(status.Texts) == 0 {
		logger.Warn("bill has no document references, skipping", "bill_id", bill.BillID)
		return false, nil
	}

	doc, err := p.source.GetBillText(ctx, status.Texts[0].DocID)
	if err != nil {
		return false, err
	}

	plain, err := doctext.FromBase64(doc.Doc, doc.MimeType)
	if err != nil {
		logger.Warn("bill document is undecodable, skipping", "bill_id", bill.BillID, "error", err)
		return false, nil
	}

	system := "All answers should reference this text: " + plain
	raw, err := p.ai.Complete(ctx, system, classifyPrompt, classifyTemperature)
	if err != nil {
		return false, err
	}

	ts, err := ParseTagSet(raw)
	if err != nil {
		// Malformed output is rejected at write time; the bill stays
		// untagged and the next run retries it.
		logger.Warn("discarding malformed tag response", "bill_id", bill.BillID, "error", err)
		return false, nil
	}
	canonical, err := ts.Encode()
	if err != nil {
		return false, err
	}

	if err := p.saveTags(bill, canonical); err != nil {
		return false, err
	}
	logger.Info("bill tagged", "bill_id", bill.BillID, "tags", ts.Names())
	return true, nil
}

// saveTags persists tags with a compare-and-swap against concurrent doc
// writes. Tags are written once: if another writer tagged the bill in the
// meantime, the existing tags win.
func (p *Pipeline) saveTags(bill storage.Bill, canonical string) error {
	version := bill.Version
	for attempt := 0; attempt < 2; attempt++ {
		err := p.store.UpdateBillTags(bill.BillID, canonical, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		current, err := p.store.GetBill(bill.BillID)
		if err != nil {
			return err
		}
		if current.Tags != "" {
			return nil
		}
		version = current.Version
	}
	return fmt.Errorf("persisting tags for bill %d: %w", bill.BillID, storage.ErrConflict)
}
