package sync

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Table names used on the wire.
const (
	TablePayBook     = "pay_book"
	TableCollectBook = "collect_book"
	TableSettlements = "settlements"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var jsonNull = []byte("null")

// Time is an epoch-millisecond timestamp that travels as an ISO-8601 string
// with millisecond precision. Decoding is lenient: epoch numbers are
// accepted and anything unparsable becomes zero instead of failing the
// whole payload.
type Time int64

// Millis returns the timestamp in epoch milliseconds.
func (t Time) Millis() int64 { return int64(t) }

func (t Time) MarshalJSON() ([]byte, error) {
	if t == 0 {
		return jsonNull, nil
	}
	s := time.UnixMilli(int64(t)).UTC().Format(isoMillis)
	return json.Marshal(s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	*t = 0
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		return nil
	}
	if b[0] != '"' {
		if ms, err := strconv.ParseFloat(string(b), 64); err == nil {
			*t = Time(int64(ms))
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, isoMillis, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Time(parsed.UnixMilli())
			return nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Time(ms)
	}
	return nil
}

// Amount is a decimal money value. It encodes as a string and decodes from a
// string or a number; invalid input becomes zero.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps a decimal for the wire.
func NewAmount(d decimal.Decimal) Amount { return Amount{Decimal: d} }

func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		a.Decimal = decimal.Zero
		return nil
	}
	a.Decimal = d
	return nil
}

// ObligationRecord is the wire shape of an obligation row.
type ObligationRecord struct {
	ID               string `json:"id,omitempty"`
	ClientID         string `json:"client_id"`
	Type             string `json:"type"`
	Counterparty     string `json:"counterparty"`
	Date             Time   `json:"date"`
	Description      string `json:"description"`
	Currency         string `json:"currency"`
	MobileNumber     string `json:"mobile_number,omitempty"`
	PrincipalAmount  Amount `json:"principal_amount"`
	RemainingAmount  Amount `json:"remaining_amount"`
	SettlementAmount Amount `json:"settlement_amount"`
	InterestAmount   Amount `json:"interest_amount"`
	Status           string `json:"status"`
	CreatedAt        Time   `json:"created_at"`
	UpdatedAt        Time   `json:"updated_at"`
	ClientUpdatedAt  Time   `json:"client_updated_at"`
	DeletedAt        Time   `json:"deleted_at,omitempty"`
}

// SettlementRecord is the wire shape of a settlement row. BookEntryID is the
// client id of the parent obligation.
type SettlementRecord struct {
	ID              string `json:"id,omitempty"`
	ClientID        string `json:"client_id"`
	BookEntryID     string `json:"book_entry_id"`
	Amount          Amount `json:"amount"`
	Date            Time   `json:"date"`
	Description     string `json:"description"`
	CreatedAt       Time   `json:"created_at"`
	UpdatedAt       Time   `json:"updated_at"`
	ClientUpdatedAt Time   `json:"client_updated_at"`
	DeletedAt       Time   `json:"deleted_at,omitempty"`
}

// DeleteRecord identifies a deleted row. It decodes from either a bare id
// string or an object.
type DeleteRecord struct {
	ClientID        string `json:"client_id"`
	ClientUpdatedAt Time   `json:"client_updated_at"`
}

func (d *DeleteRecord) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*d = DeleteRecord{}
		return json.Unmarshal(b, &d.ClientID)
	}
	type plain DeleteRecord
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = DeleteRecord(p)
	return nil
}

// ObligationChanges holds the changes to one obligation table.
type ObligationChanges struct {
	Upserts []ObligationRecord `json:"upserts"`
	Deletes []DeleteRecord     `json:"deletes"`
}

// SettlementChanges holds the changes to the settlement table.
type SettlementChanges struct {
	Upserts []SettlementRecord `json:"upserts"`
	Deletes []DeleteRecord     `json:"deletes"`
}

// Tables groups the changes of all synced tables.
type Tables struct {
	PayBook     ObligationChanges `json:"pay_book"`
	CollectBook ObligationChanges `json:"collect_book"`
	Settlements SettlementChanges `json:"settlements"`
}

// NewTables returns Tables whose slices encode as [] rather than null.
func NewTables() Tables {
	return Tables{
		PayBook:     ObligationChanges{Upserts: []ObligationRecord{}, Deletes: []DeleteRecord{}},
		CollectBook: ObligationChanges{Upserts: []ObligationRecord{}, Deletes: []DeleteRecord{}},
		Settlements: SettlementChanges{Upserts: []SettlementRecord{}, Deletes: []DeleteRecord{}},
	}
}

// Len counts every upsert and delete across tables.
func (t Tables) Len() int {
	return len(t.PayBook.Upserts) + len(t.PayBook.Deletes) +
		len(t.CollectBook.Upserts) + len(t.CollectBook.Deletes) +
		len(t.Settlements.Upserts) + len(t.Settlements.Deletes)
}

// PushRequest carries local changes to the remote.
type PushRequest struct {
	DeviceID  string `json:"device_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Tables    Tables `json:"tables"`
}

// Conflict names a pushed row the server did not accept. It decodes from a
// bare id string or an object.
type Conflict struct {
	ClientID string `json:"client_id"`
	Table    string `json:"table,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (c *Conflict) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*c = Conflict{}
		return json.Unmarshal(b, &c.ClientID)
	}
	type plain Conflict
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Conflict(p)
	return nil
}

// PushResponse is the server's answer to a push.
type PushResponse struct {
	ServerTime   Time       `json:"server_time"`
	Conflicts    []Conflict `json:"conflicts"`
	ProcessedIDs []string   `json:"processed_ids"`
}

// PullRequest asks for changes after a cursor, or after a server time when
// no cursor is known yet.
type PullRequest struct {
	Since  Time   `json:"since,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// PullResponse carries authoritative changes from the remote.
type PullResponse struct {
	ServerTime Time   `json:"server_time"`
	Tables     Tables `json:"tables"`
	NextCursor string `json:"next_cursor,omitempty"`
}
