// Package chat manages per-(user, bill) conversations: lazy greeting seed,
// AI-assisted replies grounded in the bill's text, and transactional
// append-only history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openlegis/billchat/internal/apperr"
	"github.com/openlegis/billchat/internal/doctext"
	"github.com/openlegis/billchat/internal/storage"
)

// Greeting seeds every conversation on first read.
const Greeting = "Ask me anything about this bill! For example, you can ask me to summarize it, or tell you what it's about."

// replyTemperature allows some variety in conversational replies.
const replyTemperature = 0.7

// Completer generates text completions.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// TextFetcher resolves and persists a bill's document on demand.
type TextFetcher interface {
	FetchBillText(ctx context.Context, billID int64) (string, error)
}

// ChatStore abstracts the persistence operations the manager needs.
type ChatStore interface {
	GetBill(billID int64) (storage.Bill, error)
	SeedConversation(userID string, billID int64, greeting string) error
	ListMessages(userID string, billID int64) ([]storage.ChatMessage, error)
	AppendExchange(userID string, billID int64, userText, botText string) ([]storage.ChatMessage, error)
}

// Authorizer decides whether a user may generate replies. The production
// hook point for credit/subscription gating; the default allows everyone.
type Authorizer interface {
	Authorize(ctx context.Context, userID string) error
}

// AllowAll authorizes every user.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string) error { return nil }

// Manager coordinates conversation state for one service instance.
type Manager struct {
	store  ChatStore
	texts  TextFetcher
	ai     Completer
	auth   Authorizer
	logger *slog.Logger
}

// NewManager creates a Manager. A nil auth defaults to AllowAll.
func NewManager(store ChatStore, texts TextFetcher, ai Completer, auth Authorizer) *Manager {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Manager{
		store:  store,
		texts:  texts,
		ai:     ai,
		auth:   auth,
		logger: slog.Default(),
	}
}

// History returns the conversation for (user, bill) in creation order,
// seeding it with the fixed greeting on first read. Seeding happens at most
// once per pair, even under concurrent first reads.
func (m *Manager) History(ctx context.Context, userID string, billID int64) ([]storage.ChatMessage, error) {
	if _, err := m.store.GetBill(billID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: bill %d", apperr.ErrNotFound, billID)
		}
		return nil, fmt.Errorf("loading bill %d: %w", billID, err)
	}

	if err := m.store.SeedConversation(userID, billID, Greeting); err != nil {
		return nil, fmt.Errorf("seeding conversation: %w", err)
	}

	msgs, err := m.store.ListMessages(userID, billID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// Send appends a user message and its AI-generated reply to the
// conversation and returns the reply text. The two messages commit as one
// transaction; a completion failure persists nothing.
func (m *Manager) Send(ctx context.Context, userID string, billID int64, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("%w: message text is required", apperr.ErrInvalid)
	}

	bill, err := m.store.GetBill(billID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: bill %d", apperr.ErrNotFound, billID)
		}
		return "", fmt.Errorf("loading bill %d: %w", billID, err)
	}

	if err := m.auth.Authorize(ctx, userID); err != nil {
		return "", err
	}

	// The document is fetched the first time any chat needs it.
	if bill.Doc == "" {
		m.logger.Info("fetching bill document for chat", "bill_id", billID)
		if _, err := m.texts.FetchBillText(ctx, billID); err != nil {
			return "", err
		}
		bill, err = m.store.GetBill(billID)
		if err != nil {
			return "", fmt.Errorf("reloading bill %d: %w", billID, err)
		}
	}

	plain, err := doctext.FromBase64(bill.Doc, "")
	if err != nil {
		return "", fmt.Errorf("extracting bill %d text: %w", billID, err)
	}

	system := "All answers should reference this text: " + plain
	reply, err := m.ai.Complete(ctx, system, text, replyTemperature)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	if _, err := m.store.AppendExchange(userID, billID, text, reply); err != nil {
		return "", fmt.Errorf("appending exchange: %w", err)
	}
	return reply, nil
}
