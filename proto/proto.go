package proto

// Sampler wire messages and service plumbing. Messages travel as JSON through
// the "json" gRPC codec registered below.

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "qbenchsim.v1.Sampler"
	CodecName   = "json"

	fetchMethod = "/" + ServiceName + "/Fetch"
)

type FetchRequest struct {
	Dataset   string `json:"dataset,omitempty"`
	Algorithm string `json:"algorithm"`
	Size      int32  `json:"size"`
	Backend   string `json:"backend"`
	Mirror    bool   `json:"mirror"`
	Shots     int64  `json:"shots"`
	Exact     bool   `json:"exact"`
	Random    bool   `json:"random"`
	Seed      *int64 `json:"seed,omitempty"`
}

type FetchResponse struct {
	RequestId    string            `json:"request_id"`
	Dataset      string            `json:"dataset"`
	Mode         string            `json:"mode"`
	Counts       map[string]int64  `json:"counts"`
	Proportions  map[string]string `json:"proportions"`
	Total        int64             `json:"total"`
	RawTotal     int64             `json:"raw_total"`
	Consumed     int64             `json:"consumed"`
	CursorStart  int64             `json:"cursor_start"`
	CursorEnd    int64             `json:"cursor_end"`
	SamplingSeed uint64            `json:"sampling_seed"`
	ExactSeed    uint64            `json:"exact_seed"`
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// SamplerServer is the server API for the Sampler service.
type SamplerServer interface {
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
}

// UnimplementedSamplerServer answers Unimplemented to every method.
type UnimplementedSamplerServer struct{}

func (UnimplementedSamplerServer) Fetch(context.Context, *FetchRequest) (*FetchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Fetch not implemented")
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SamplerServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SamplerServer).Fetch(ctx, req.(*FetchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var samplerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SamplerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: fetchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qbenchsim/v1/sampler",
}

// RegisterSamplerServer registers srv on s.
func RegisterSamplerServer(s grpc.ServiceRegistrar, srv SamplerServer) {
	s.RegisterService(&samplerServiceDesc, srv)
}

// SamplerClient is the client API for the Sampler service.
type SamplerClient interface {
	Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error)
}

type samplerClient struct {
	cc grpc.ClientConnInterface
}

func NewSamplerClient(cc grpc.ClientConnInterface) SamplerClient {
	return &samplerClient{cc: cc}
}

func (c *samplerClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error) {
	out := new(FetchResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fetchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
