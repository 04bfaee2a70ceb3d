package rpc

import (
	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/ledger"
)

// An empty OwnerID addresses the caller's own ledger. Amounts and dates travel
// as strings and are parsed by the server.

type CreateEntryRequest struct {
	OwnerID  string `json:"owner_id,omitempty"`
	Amount   string `json:"amount"`
	Kind     string `json:"kind"`
	Category string `json:"category,omitempty"`
	Details  string `json:"details"`
	Date     string `json:"date"`
}

type EditEntryRequest struct {
	EntryID  string `json:"entry_id"`
	OwnerID  string `json:"owner_id,omitempty"`
	Amount   string `json:"amount"`
	Category string `json:"category,omitempty"`
	Details  string `json:"details,omitempty"`
	Date     string `json:"date,omitempty"`
}

type DeleteEntryRequest struct {
	EntryID string `json:"entry_id"`
	OwnerID string `json:"owner_id,omitempty"`
}

// DeleteEntryResponse and EntryResponse omit the balance when the owner could
// not be read back after the commit.
type DeleteEntryResponse struct {
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

type ReadLedgerRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

type ReadLedgerResponse struct {
	Page ledger.Page `json:"page"`
}

type AssignBalanceRequest struct {
	TargetID string `json:"target_id"`
	Amount   string `json:"amount"`
	Details  string `json:"details"`
	Date     string `json:"date"`
}

// EntryResponse carries the written entry and its owner's balance after
// the commit.
type EntryResponse struct {
	Entry   ledger.Entry     `json:"entry"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

type GetAccountRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

type GetAccountResponse struct {
	Account ledger.Account `json:"account"`
}
