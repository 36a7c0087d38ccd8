package service

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/ledgersync/internal/readmodel"
)

// Request and response messages of the local LedgerService. Dates are epoch
// milliseconds; amounts are decimal strings (numbers are accepted).

type IncurRequest struct {
	Direction    string          `json:"direction"`
	Counterparty string          `json:"counterparty"`
	Date         int64           `json:"date"`
	Principal    decimal.Decimal `json:"principal"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description,omitempty"`
	MobileNumber string          `json:"mobile_number,omitempty"`
}

type IncurResponse struct {
	ObligationID string `json:"obligation_id"`
}

type AddSettlementRequest struct {
	ObligationID string          `json:"obligation_id"`
	Amount       decimal.Decimal `json:"amount"`
	Date         int64           `json:"date,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// AddSettlementResponse reports Recorded=false when the obligation no longer
// exists locally.
type AddSettlementResponse struct {
	SettlementID string `json:"settlement_id,omitempty"`
	Recorded     bool   `json:"recorded"`
}

type DeleteSettlementRequest struct {
	SettlementID string `json:"settlement_id"`
}

type AmendPrincipalRequest struct {
	ObligationID string          `json:"obligation_id"`
	Principal    decimal.Decimal `json:"principal"`
	Counterparty *string         `json:"counterparty,omitempty"`
	Currency     *string         `json:"currency,omitempty"`
	Description  *string         `json:"description,omitempty"`
}

type DeleteObligationRequest struct {
	ObligationID string `json:"obligation_id"`
}

// Empty is returned by calls with nothing to report.
type Empty struct{}

type ListObligationsRequest struct {
	Direction string `json:"direction"`
}

type ListObligationsResponse struct {
	Obligations []readmodel.ObligationView `json:"obligations"`
}

type GetSummaryRequest struct{}

// GetSummaryResponse totals what is outstanding in each direction.
type GetSummaryResponse struct {
	Payable      decimal.Decimal `json:"payable"`
	Receivable   decimal.Decimal `json:"receivable"`
	PayCount     int             `json:"pay_count"`
	CollectCount int             `json:"collect_count"`
}

type SyncNowRequest struct{}

type SyncNowResponse struct {
	Pushed    int `json:"pushed"`
	Cleared   int `json:"cleared"`
	Conflicts int `json:"conflicts"`
	Pulled    int `json:"pulled"`
}
