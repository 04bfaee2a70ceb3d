package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/security"
	"github.com/example/expense-ledger/internal/stats"
)

type signupResponse struct {
	Account     ledger.Account `json:"account"`
	AccessToken string         `json:"access_token,omitempty"`
	ExpiresIn   int64          `json:"expires_in,omitempty"`
}

// entryResponse carries the owner only when it could be read back after the
// commit.
type entryResponse struct {
	Entry   ledger.Entry    `json:"entry"`
	Account *ledger.Account `json:"account,omitempty"`
}

// identity is only called behind auth.Authenticate.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func handleSignup(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		acct, err := deps.Ledger.OpenAccount(r.Context(), ledger.OpenAccountRequest{
			Name:  req.Name,
			Email: req.Email,
			Role:  ledger.RoleAdmin,
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		resp := signupResponse{Account: acct}
		if deps.Validator != nil && len(deps.Validator.Secret) > 0 {
			tok, err := deps.Validator.Issue(auth.Identity{AccountID: acct.ID, Role: acct.Role}, deps.TokenTTL)
			if err != nil {
				writeError(w, r, deps.Logger, err)
				return
			}
			resp.AccessToken = tok
			resp.ExpiresIn = int64(deps.TokenTTL / time.Second)
		}
		writeJSON(w, r, http.StatusCreated, resp)
	}
}

func handleMe(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := deps.Ledger.Account(r.Context(), identity(r).AccountID)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, acct)
	}
}

func handleCreateExpense(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expenseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		amount, err := req.Amount.Decimal()
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		kind, err := ledger.ParseKind(req.Type)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		date, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		me := identity(r)
		entry, err := deps.Ledger.CreateEntry(r.Context(), ledger.CreateEntryRequest{
			OwnerID:    me.AccountID,
			Amount:     amount,
			Kind:       kind,
			Category:   req.Category,
			Details:    req.Details,
			OccurredAt: date,
			ActorID:    me.AccountID,
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeEntry(w, r, deps, http.StatusCreated, entry)
	}
}

func handleListExpenses(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listLedger(w, r, deps, identity(r).AccountID)
	}
}

func handleEditExpense(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := identity(r)
		editEntry(w, r, deps, me.AccountID)
	}
}

func handleDeleteExpense(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := identity(r)
		deleteEntry(w, r, deps, me.AccountID)
	}
}

func handleMonthlyStats(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		monthlyStats(w, r, deps, identity(r).AccountID)
	}
}

func handleReport(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		period, err := stats.ParsePeriod(q.Get("period"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		from, err := optionalDate(q.Get("from"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		to, err := optionalDate(q.Get("to"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		report, err := deps.Stats.Report(r.Context(), identity(r).AccountID, period, from, to)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, report)
	}
}

// The helpers below serve both the self-service and the admin routes; ownerID
// is the account whose ledger is addressed, the actor comes from the token.

func listLedger(w http.ResponseWriter, r *http.Request, deps Dependencies, ownerID string) {
	offset, limit, err := pageParams(r)
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	page, err := deps.Ledger.ReadLedger(r.Context(), ownerID, offset, limit)
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func editEntry(w http.ResponseWriter, r *http.Request, deps Dependencies, ownerID string) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}

	entry, err := deps.Ledger.EditEntry(r.Context(), ledger.EditEntryRequest{
		EntryID:    chi.URLParam(r, "entryID"),
		OwnerID:    ownerID,
		Amount:     amount,
		Category:   req.Category,
		Details:    req.Details,
		OccurredAt: date,
		ActorID:    identity(r).AccountID,
	})
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	writeEntry(w, r, deps, http.StatusOK, entry)
}

func deleteEntry(w http.ResponseWriter, r *http.Request, deps Dependencies, ownerID string) {
	err := deps.Ledger.DeleteEntry(r.Context(), ledger.DeleteEntryRequest{
		EntryID: chi.URLParam(r, "entryID"),
		OwnerID: ownerID,
		ActorID: identity(r).AccountID,
	})
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func monthlyStats(w http.ResponseWriter, r *http.Request, deps Dependencies, accountID string) {
	summary, err := deps.Stats.Monthly(r.Context(), accountID)
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// writeEntry responds with the entry and its owner's post-commit balance. The
// entry is committed at this point, so a failed read of the owner drops the
// account from the body instead of failing the request.
func writeEntry(w http.ResponseWriter, r *http.Request, deps Dependencies, status int, entry ledger.Entry) {
	resp := entryResponse{Entry: entry}
	acct, err := deps.Ledger.Account(r.Context(), entry.OwnerID)
	if err != nil {
		deps.Logger.WarnContext(r.Context(), "post-commit account read failed",
			security.CorrelationAttr(r.Context()), "account_id", entry.OwnerID, "error", err)
	} else {
		resp.Account = &acct
	}
	writeJSON(w, r, status, resp)
}
