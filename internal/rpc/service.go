package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "expenseledger.v1.Ledger"

// LedgerServer is the server API of the Ledger service.
type LedgerServer interface {
	CreateEntry(context.Context, *CreateEntryRequest) (*EntryResponse, error)
	EditEntry(context.Context, *EditEntryRequest) (*EntryResponse, error)
	DeleteEntry(context.Context, *DeleteEntryRequest) (*DeleteEntryResponse, error)
	ReadLedger(context.Context, *ReadLedgerRequest) (*ReadLedgerResponse, error)
	AssignBalance(context.Context, *AssignBalanceRequest) (*EntryResponse, error)
	GetAccount(context.Context, *GetAccountRequest) (*GetAccountResponse, error)
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

// unary adapts one typed method to the grpc.MethodDesc handler shape.
func unary[Req, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateEntry", LedgerServer.CreateEntry),
		unary("EditEntry", LedgerServer.EditEntry),
		unary("DeleteEntry", LedgerServer.DeleteEntry),
		unary("ReadLedger", LedgerServer.ReadLedger),
		unary("AssignBalance", LedgerServer.AssignBalance),
		unary("GetAccount", LedgerServer.GetAccount),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expenseledger/v1/ledger.json",
}
