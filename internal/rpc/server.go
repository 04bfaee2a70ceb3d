package rpc

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/ledger"
)

// Engine is the part of the ledger engine the RPC surface drives.
type Engine interface {
	Account(ctx context.Context, id string) (ledger.Account, error)
	Authorize(ctx context.Context, actorID, accountID string) (ledger.Account, error)
	CreateEntry(ctx context.Context, req ledger.CreateEntryRequest) (ledger.Entry, error)
	EditEntry(ctx context.Context, req ledger.EditEntryRequest) (ledger.Entry, error)
	DeleteEntry(ctx context.Context, req ledger.DeleteEntryRequest) error
	AssignBalance(ctx context.Context, req ledger.AssignRequest) (ledger.Entry, error)
	ReadLedger(ctx context.Context, ownerID string, offset, limit int) (ledger.Page, error)
}

// Server implements LedgerServer on top of the engine. Every call acts as
// the identity the auth interceptor placed on the context.
type Server struct {
	engine Engine
	logger *slog.Logger
}

var _ LedgerServer = (*Server)(nil)

type ServerOption func(*Server)

func WithLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.logger = l } }

func NewServer(engine Engine, opts ...ServerOption) *Server {
	s := &Server{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// caller returns the authenticated account and the owner a request addresses.
func caller(ctx context.Context, ownerID string) (actor, owner string) {
	id, _ := auth.IdentityFromContext(ctx)
	if ownerID == "" {
		ownerID = id.AccountID
	}
	return id.AccountID, ownerID
}

func (s *Server) CreateEntry(ctx context.Context, req *CreateEntryRequest) (*EntryResponse, error) {
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	kind, err := ledger.ParseKind(req.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		return nil, toStatus(err)
	}

	actor, owner := caller(ctx, req.OwnerID)
	entry, err := s.engine.CreateEntry(ctx, ledger.CreateEntryRequest{
		OwnerID:    owner,
		Amount:     amount,
		Kind:       kind,
		Category:   req.Category,
		Details:    req.Details,
		OccurredAt: date,
		ActorID:    actor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.entryResponse(ctx, entry)
}

func (s *Server) EditEntry(ctx context.Context, req *EditEntryRequest) (*EntryResponse, error) {
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	var date ledger.Date
	if req.Date != "" {
		if date, err = ledger.ParseDate(req.Date); err != nil {
			return nil, toStatus(err)
		}
	}

	actor, owner := caller(ctx, req.OwnerID)
	entry, err := s.engine.EditEntry(ctx, ledger.EditEntryRequest{
		EntryID:    req.EntryID,
		OwnerID:    owner,
		Amount:     amount,
		Category:   req.Category,
		Details:    req.Details,
		OccurredAt: date,
		ActorID:    actor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.entryResponse(ctx, entry)
}

func (s *Server) DeleteEntry(ctx context.Context, req *DeleteEntryRequest) (*DeleteEntryResponse, error) {
	actor, owner := caller(ctx, req.OwnerID)
	err := s.engine.DeleteEntry(ctx, ledger.DeleteEntryRequest{
		EntryID: req.EntryID,
		OwnerID: owner,
		ActorID: actor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteEntryResponse{Balance: s.balance(ctx, owner)}, nil
}

func (s *Server) ReadLedger(ctx context.Context, req *ReadLedgerRequest) (*ReadLedgerResponse, error) {
	actor, owner := caller(ctx, req.OwnerID)
	if _, err := s.engine.Authorize(ctx, actor, owner); err != nil {
		return nil, toStatus(err)
	}
	page, err := s.engine.ReadLedger(ctx, owner, req.Offset, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReadLedgerResponse{Page: page}, nil
}

func (s *Server) AssignBalance(ctx context.Context, req *AssignBalanceRequest) (*EntryResponse, error) {
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		return nil, toStatus(err)
	}

	actor, _ := caller(ctx, "")
	entry, err := s.engine.AssignBalance(ctx, ledger.AssignRequest{
		TargetID:   req.TargetID,
		Amount:     amount,
		Details:    req.Details,
		OccurredAt: date,
		ActorID:    actor,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.entryResponse(ctx, entry)
}

func (s *Server) GetAccount(ctx context.Context, req *GetAccountRequest) (*GetAccountResponse, error) {
	actor, owner := caller(ctx, req.AccountID)
	acct, err := s.engine.Authorize(ctx, actor, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetAccountResponse{Account: acct}, nil
}

func (s *Server) entryResponse(ctx context.Context, entry ledger.Entry) (*EntryResponse, error) {
	return &EntryResponse{Entry: entry, Balance: s.balance(ctx, entry.OwnerID)}, nil
}

// balance reads an owner's balance after a committed write. A failed read is
// logged and yields nil; the write itself already succeeded.
func (s *Server) balance(ctx context.Context, ownerID string) *decimal.Decimal {
	acct, err := s.engine.Account(ctx, ownerID)
	if err != nil {
		s.logger.WarnContext(ctx, "post-commit account read failed", "account_id", ownerID, "error", err)
		return nil
	}
	return &acct.NetBalance
}
