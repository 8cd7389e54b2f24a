package dispatchtest

import (
	"context"
	"fmt"
	"net/http"

	"buf.build/gen/go/stealthrocket/dispatch-proto/connectrpc/go/dispatch/sdk/v1/sdkv1connect"
	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"connectrpc.com/connect"
	"github.com/dispatchrun/dispatch-runtime/internal/auth"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// EndpointClient is a client for a Dispatch endpoint.
//
// It sends requests the way Dispatch would, which is useful when
// testing an endpoint.
type EndpointClient struct {
	httpClient connect.HTTPClient
	signingKey string

	client sdkv1connect.FunctionServiceClient
}

// NewEndpointClient creates an EndpointClient.
func NewEndpointClient(baseURL string, opts ...EndpointClientOption) (*EndpointClient, error) {
	c := &EndpointClient{}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.signingKey != "" {
		privateKey, err := auth.ParsePrivateKey(c.signingKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
		signer := auth.NewSigner(privateKey)
		c.httpClient = signer.Client(c.httpClient)
	}
	c.client = sdkv1connect.NewFunctionServiceClient(c.httpClient, baseURL)
	return c, nil
}

// EndpointClientOption configures an EndpointClient.
type EndpointClientOption func(*EndpointClient)

// WithClient configures an EndpointClient to make HTTP
// requests using the specified HTTP client.
//
// By default, http.DefaultClient is used.
func WithClient(client connect.HTTPClient) EndpointClientOption {
	return func(c *EndpointClient) { c.httpClient = client }
}

// WithSigningKey configures an EndpointClient to sign requests in the
// same way that Dispatch would, using the specified base64-encoded
// ed25519 private key (see KeyPair).
//
// By default, requests are not signed.
func WithSigningKey(signingKey string) EndpointClientOption {
	return func(c *EndpointClient) { c.signingKey = signingKey }
}

// Run sends a RunRequest and returns a RunResponse.
func (c *EndpointClient) Run(ctx context.Context, req *sdkv1.RunRequest) (*sdkv1.RunResponse, error) {
	res, err := c.client.Run(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Call runs a function with an input, and returns its response.
func (c *EndpointClient) Call(ctx context.Context, function string, input proto.Message) (*sdkv1.RunResponse, error) {
	req, err := NewRunRequest(function, input)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, req)
}

// NewRunRequest creates a request that runs a function with an input.
func NewRunRequest(function string, input proto.Message) (*sdkv1.RunRequest, error) {
	boxed, err := anypb.New(input)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	return &sdkv1.RunRequest{
		Function:  function,
		Directive: &sdkv1.RunRequest_Input{Input: boxed},
	}, nil
}
