// Package collectorv1 is the wire contract of the rtcwatch collector: its
// messages, the gRPC service descriptor, and a client stub.
package collectorv1

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ppiankov/rtcwatch/internal/report"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rtcwatch.collector.v1.CollectorService"

const (
	deliverMethod = "/" + ServiceName + "/Deliver"
	queryMethod   = "/" + ServiceName + "/Query"
	countsMethod  = "/" + ServiceName + "/Counts"
)

// DeliverRequest carries a batch of records from one or more pages.
type DeliverRequest struct {
	Records []report.Record `json:"records"`
}

// DeliverResponse reports how many records the collector stored.
type DeliverResponse struct {
	Accepted int32  `json:"accepted"`
	Failed   int32  `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// QueryRequest filters stored records. Empty fields match everything.
type QueryRequest struct {
	PageID      string `json:"page_id,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	AccessType  string `json:"access_type,omitempty"`
	Limit       int32  `json:"limit,omitempty"`
}

// QueryResponse returns stored records in arrival order.
type QueryResponse struct {
	Records []report.Record `json:"records"`
}

// Count aggregates records by member and source.
type Count struct {
	Description string `json:"description"`
	Source      string `json:"source"`
	Count       int32  `json:"count"`
}

// CountsResponse returns aggregates, most frequent first.
type CountsResponse struct {
	Counts []Count `json:"counts"`
}

// CollectorServiceServer is implemented by the collector.
type CollectorServiceServer interface {
	Deliver(context.Context, *DeliverRequest) (*DeliverResponse, error)
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Counts(context.Context, *QueryRequest) (*CountsResponse, error)
}

// RegisterCollectorServiceServer registers srv on s.
func RegisterCollectorServiceServer(s grpc.ServiceRegistrar, srv CollectorServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Query", Handler: queryHandler},
		{MethodName: "Counts", Handler: countsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rtcwatch/collector/v1",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeliverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServiceServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServiceServer).Deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServiceServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: queryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServiceServer).Query(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func countsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServiceServer).Counts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: countsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServiceServer).Counts(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CollectorServiceClient is the client stub.
type CollectorServiceClient interface {
	Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error)
	Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error)
	Counts(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*CountsResponse, error)
}

type collectorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCollectorServiceClient wraps cc. Every call is sent with the JSON
// content-subtype.
func NewCollectorServiceClient(cc grpc.ClientConnInterface) CollectorServiceClient {
	return &collectorServiceClient{cc: cc}
}

func (c *collectorServiceClient) Deliver(ctx context.Context, in *DeliverRequest, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	if err := c.cc.Invoke(ctx, deliverMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collectorServiceClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	out := new(QueryResponse)
	if err := c.cc.Invoke(ctx, queryMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collectorServiceClient) Counts(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*CountsResponse, error) {
	out := new(CountsResponse)
	if err := c.cc.Invoke(ctx, countsMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
