package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/security"
	"github.com/example/expense-ledger/internal/stats"
)

// Ledger is the part of the engine the HTTP surface drives.
type Ledger interface {
	OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (ledger.Account, error)
	DeleteAccount(ctx context.Context, accountID, actorID string) error
	Account(ctx context.Context, id string) (ledger.Account, error)
	CreateEntry(ctx context.Context, req ledger.CreateEntryRequest) (ledger.Entry, error)
	EditEntry(ctx context.Context, req ledger.EditEntryRequest) (ledger.Entry, error)
	DeleteEntry(ctx context.Context, req ledger.DeleteEntryRequest) error
	AssignBalance(ctx context.Context, req ledger.AssignRequest) (ledger.Entry, error)
	ReadLedger(ctx context.Context, ownerID string, offset, limit int) (ledger.Page, error)
	ListMembers(ctx context.Context, adminID string, offset, limit int) (ledger.MemberList, error)
}

type Stats interface {
	Monthly(ctx context.Context, accountID string) (stats.MonthlySummary, error)
	Report(ctx context.Context, accountID string, p stats.Period, from, to ledger.Date) (stats.Report, error)
}

type Dependencies struct {
	Logger    *slog.Logger
	Validator *auth.Validator
	TokenTTL  time.Duration

	Ledger Ledger
	Stats  Stats

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = time.Hour
	}

	signupV, err := security.NewJSONSchemaValidator(signupSchema)
	if err != nil {
		return nil, err
	}
	memberV, err := security.NewJSONSchemaValidator(registerMemberSchema)
	if err != nil {
		return nil, err
	}
	createV, err := security.NewJSONSchemaValidator(createExpenseSchema)
	if err != nil {
		return nil, err
	}
	editV, err := security.NewJSONSchemaValidator(editExpenseSchema)
	if err != nil {
		return nil, err
	}
	assignV, err := security.NewJSONSchemaValidator(assignSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}
	audited := func(r chi.Router) {
		if deps.Auditor != nil {
			r.Use(AuditMiddleware(deps.Auditor, deps.Logger))
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			audited(r)
			r.With(signupV.Middleware).Post("/accounts", handleSignup(deps))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(deps.Validator, onAuthError))
			audited(r)

			r.Get("/me", handleMe(deps))

			r.Route("/expenses", func(r chi.Router) {
				r.Get("/", handleListExpenses(deps))
				r.With(createV.Middleware).Post("/", handleCreateExpense(deps))
				r.With(editV.Middleware).Patch("/{entryID}", handleEditExpense(deps))
				r.Delete("/{entryID}", handleDeleteExpense(deps))
			})

			r.Get("/stats/monthly", handleMonthlyStats(deps))
			r.Get("/reports/summary", handleReport(deps))

			r.Route("/admin/members", func(r chi.Router) {
				r.Use(auth.RequireRole(ledger.RoleAdmin, onAuthError))

				r.Get("/", handleListMembers(deps))
				r.With(memberV.Middleware).Post("/", handleRegisterMember(deps))

				r.Route("/{accountID}", func(r chi.Router) {
					r.Get("/", handleGetMember(deps))
					r.Delete("/", handleDeleteMember(deps))
					r.Get("/expenses", handleMemberExpenses(deps))
					r.With(editV.Middleware).Patch("/expenses/{entryID}", handleEditMemberExpense(deps))
					r.Delete("/expenses/{entryID}", handleDeleteMemberExpense(deps))
					r.With(assignV.Middleware).Post("/assign", handleAssign(deps))
					r.Get("/stats", handleMemberStats(deps))
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	return "ip:" + security.ClientIP(r)
}
