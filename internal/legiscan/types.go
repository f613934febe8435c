package legiscan

// BillSummary is one masterlist entry: the provider's summary record for a
// single bill.
type BillSummary struct {
	BillID         int64  `json:"bill_id"`
	Number         string `json:"number"`
	ChangeHash     string `json:"change_hash"`
	URL            string `json:"url"`
	StatusDate     string `json:"status_date"`
	Status         int    `json:"status"`
	LastActionDate string `json:"last_action_date"`
	LastAction     string `json:"last_action"`
	Title          string `json:"title"`
	Description    string `json:"description"`
}

// DocRef points at one published text of a bill.
type DocRef struct {
	DocID     int64  `json:"doc_id"`
	StateLink string `json:"state_link"`
}

// BillStatus is the getBill response payload. Texts may be empty when the
// bill has no published document yet; callers decide how to treat that.
type BillStatus struct {
	BillID int64    `json:"bill_id"`
	Number string   `json:"number"`
	Texts  []DocRef `json:"texts"`
}

// BillDoc is the getBillText response payload. Doc is a base64-encoded
// document whose format is described by MimeType.
type BillDoc struct {
	DocID     int64  `json:"doc_id"`
	StateLink string `json:"state_link"`
	MimeType  string `json:"mime"`
	Doc       string `json:"doc"`
}
