// Package client talks to a remote rtcwatch collector over gRPC. A Client is
// also a report.Sink, so pages can forward records straight to a collector.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	collectorv1 "github.com/ppiankov/rtcwatch/api/collector/v1"
	"github.com/ppiankov/rtcwatch/internal/report"
)

// DefaultTimeout bounds every RPC that does not carry its own deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a collector.
type Client struct {
	conn    *grpc.ClientConn
	client  collectorv1.CollectorServiceClient
	timeout time.Duration
}

// New creates a client for addr. The connection is established lazily, so
// an unreachable collector surfaces on the first Deliver.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to collector: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  collectorv1.NewCollectorServiceClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// WithTimeout sets the per-call timeout. Zero keeps DefaultTimeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Deliver sends one record. A record the collector failed to store is an
// error, same as an RPC failure.
func (c *Client) Deliver(ctx context.Context, rec report.Record) error {
	resp, err := c.DeliverBatch(ctx, []report.Record{rec})
	if err != nil {
		return err
	}
	if resp.Failed > 0 {
		return fmt.Errorf("collector rejected record: %s", resp.Error)
	}
	return nil
}

// DeliverBatch sends records in one RPC.
func (c *Client) DeliverBatch(ctx context.Context, recs []report.Record) (*collectorv1.DeliverResponse, error) {
	if c.conn == nil {
		return nil, report.ErrSinkClosed
	}
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.client.Deliver(ctx, &collectorv1.DeliverRequest{Records: recs})
	if err != nil {
		return nil, fmt.Errorf("collector unreachable: %w", err)
	}
	return resp, nil
}

// Query returns stored records matching req.
func (c *Client) Query(ctx context.Context, req *collectorv1.QueryRequest) ([]report.Record, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Counts returns per-member, per-source aggregates matching req.
func (c *Client) Counts(ctx context.Context, req *collectorv1.QueryRequest) ([]collectorv1.Count, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.client.Counts(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// Close closes the gRPC connection. Later deliveries return
// report.ErrSinkClosed.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
