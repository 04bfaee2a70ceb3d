package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client is a typed client for the Ledger service. Errors returned by its
// methods match the ledger sentinels with errors.Is.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps cc. Calls carry token as a bearer credential.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+c.token)
	}
	out := new(Resp)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) CreateEntry(ctx context.Context, in *CreateEntryRequest) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, c, "CreateEntry", in)
}

func (c *Client) EditEntry(ctx context.Context, in *EditEntryRequest) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, c, "EditEntry", in)
}

func (c *Client) DeleteEntry(ctx context.Context, in *DeleteEntryRequest) (*DeleteEntryResponse, error) {
	return invoke[DeleteEntryResponse](ctx, c, "DeleteEntry", in)
}

func (c *Client) ReadLedger(ctx context.Context, in *ReadLedgerRequest) (*ReadLedgerResponse, error) {
	return invoke[ReadLedgerResponse](ctx, c, "ReadLedger", in)
}

func (c *Client) AssignBalance(ctx context.Context, in *AssignBalanceRequest) (*EntryResponse, error) {
	return invoke[EntryResponse](ctx, c, "AssignBalance", in)
}

func (c *Client) GetAccount(ctx context.Context, in *GetAccountRequest) (*GetAccountResponse, error) {
	return invoke[GetAccountResponse](ctx, c, "GetAccount", in)
}
