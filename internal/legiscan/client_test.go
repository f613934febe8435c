package legiscan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openlegis/billchat/internal/apperr"
)

func TestGetMasterList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("op") != "getMasterList" {
			t.Errorf("op = %q, want getMasterList", q.Get("op"))
		}
		if q.Get("key") != "test-key" {
			t.Errorf("key = %q, want test-key", q.Get("key"))
		}
		if q.Get("state") != "CA" {
			t.Errorf("state = %q, want CA", q.Get("state"))
		}
		w.Write([]byte(`{
			"status": "OK",
			"masterlist": {
				"session": {"session_id": 2172, "session_name": "2025-2026 Regular Session"},
				"1": {"bill_id": 1818354, "number": "AB2", "change_hash": "h2", "url": "https://legiscan.com/CA/bill/AB2", "status": 1, "status_date": "2025-01-06", "last_action": "Introduced", "last_action_date": "2025-01-06", "title": "Bill two", "description": "Second bill"},
				"0": {"bill_id": 1818353, "number": "AB1", "change_hash": "h1", "url": "https://legiscan.com/CA/bill/AB1", "status": 1, "status_date": "2025-01-06", "last_action": "Introduced", "last_action_date": "2025-01-06", "title": "Bill one", "description": "First bill"}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	bills, err := c.GetMasterList(context.Background(), "CA")
	if err != nil {
		t.Fatalf("GetMasterList: %v", err)
	}

	if len(bills) != 2 {
		t.Fatalf("got %d bills, want 2 (session entry must be skipped)", len(bills))
	}
	if bills[0].BillID != 1818353 || bills[1].BillID != 1818354 {
		t.Errorf("bills not in source order: %d, %d", bills[0].BillID, bills[1].BillID)
	}
	if bills[0].Number != "AB1" || bills[0].Title != "Bill one" {
		t.Errorf("first bill fields: %+v", bills[0])
	}
}

func TestGetMasterListErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"http error", `{}`, http.StatusInternalServerError},
		{"provider error status", `{"status":"ERROR"}`, http.StatusOK},
		{"not json", `<html>nope</html>`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("k", srv.URL)
			_, err := c.GetMasterList(context.Background(), "CA")
			if !errors.Is(err, apperr.ErrUpstream) {
				t.Errorf("err = %v, want apperr.ErrUpstream", err)
			}
		})
	}
}

func TestGetBill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("op"); got != "getBill" {
			t.Errorf("op = %q, want getBill", got)
		}
		if got := r.URL.Query().Get("id"); got != "42" {
			t.Errorf("id = %q, want 42", got)
		}
		w.Write([]byte(`{"status":"OK","bill":{"bill_id":42,"number":"SB7","texts":[{"doc_id":900,"state_link":"https://example.gov/sb7.html"}]}}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL)
	bill, err := c.GetBill(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if len(bill.Texts) != 1 || bill.Texts[0].DocID != 900 {
		t.Errorf("texts = %+v", bill.Texts)
	}
}

func TestGetBillNoTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","bill":{"bill_id":42,"number":"SB7","texts":[]}}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL)
	bill, err := c.GetBill(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBill with empty texts must not error: %v", err)
	}
	if len(bill.Texts) != 0 {
		t.Errorf("texts = %+v, want empty", bill.Texts)
	}
}

func TestGetBillText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","text":{"doc_id":900,"state_link":"https://example.gov/sb7.html","mime":"text/html","doc":"PGh0bWw+"}}`))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL)
	doc, err := c.GetBillText(context.Background(), 900)
	if err != nil {
		t.Fatalf("GetBillText: %v", err)
	}
	if doc.StateLink != "https://example.gov/sb7.html" {
		t.Errorf("StateLink = %q", doc.StateLink)
	}
	if doc.Doc != "PGh0bWw+" {
		t.Errorf("Doc = %q", doc.Doc)
	}
}
