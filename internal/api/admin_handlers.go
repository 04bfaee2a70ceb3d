package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/expense-ledger/internal/ledger"
)

// member resolves {accountID} and checks it belongs to the calling admin.
func member(w http.ResponseWriter, r *http.Request, deps Dependencies) (ledger.Account, bool) {
	admin := identity(r)
	acct, err := deps.Ledger.Account(r.Context(), chi.URLParam(r, "accountID"))
	if err == nil && acct.ParentID != admin.AccountID {
		err = fmt.Errorf("%w: %s does not manage %s", ledger.ErrUnauthorized, admin.AccountID, acct.ID)
	}
	if err != nil {
		writeError(w, r, deps.Logger, err)
		return ledger.Account{}, false
	}
	return acct, true
}

func handleListMembers(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit, err := pageParams(r)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		list, err := deps.Ledger.ListMembers(r.Context(), identity(r).AccountID, offset, limit)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, list)
	}
}

func handleRegisterMember(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		admin := identity(r)
		acct, err := deps.Ledger.OpenAccount(r.Context(), ledger.OpenAccountRequest{
			Name:     req.Name,
			Email:    req.Email,
			Role:     ledger.RoleMember,
			ParentID: admin.AccountID,
			ActorID:  admin.AccountID,
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, acct)
	}
}

func handleGetMember(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := member(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, r, http.StatusOK, acct)
	}
}

func handleDeleteMember(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Ledger.DeleteAccount(r.Context(), chi.URLParam(r, "accountID"), identity(r).AccountID)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMemberExpenses(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := member(w, r, deps)
		if !ok {
			return
		}
		listLedger(w, r, deps, acct.ID)
	}
}

func handleEditMemberExpense(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := member(w, r, deps)
		if !ok {
			return
		}
		editEntry(w, r, deps, acct.ID)
	}
}

func handleDeleteMemberExpense(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := member(w, r, deps)
		if !ok {
			return
		}
		deleteEntry(w, r, deps, acct.ID)
	}
}

func handleAssign(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		amount, err := req.Amount.Decimal()
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		date, err := ledger.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		entry, err := deps.Ledger.AssignBalance(r.Context(), ledger.AssignRequest{
			TargetID:   chi.URLParam(r, "accountID"),
			Amount:     amount,
			Details:    req.Details,
			OccurredAt: date,
			ActorID:    identity(r).AccountID,
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeEntry(w, r, deps, http.StatusCreated, entry)
	}
}

func handleMemberStats(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := member(w, r, deps)
		if !ok {
			return
		}
		monthlyStats(w, r, deps, acct.ID)
	}
}
