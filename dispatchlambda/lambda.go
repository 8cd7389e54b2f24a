// Package dispatchlambda serves Dispatch functions from an AWS Lambda
// function.
package dispatchlambda

import (
	"context"
	"encoding/base64"
	"log/slog"

	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/dispatchrun/dispatch-runtime"
	"google.golang.org/protobuf/proto"
)

// Start is a shortcut to start a Lambda function handler that runs the
// functions of the registry when invoked.
//
// The registry must be bound to a runtime. A warm Lambda environment
// keeps the runtime alive across invocations.
func Start(registry *dispatch.FunctionRegistry) {
	lambda.Start(Handler(registry))
}

// Handler creates a Lambda function handler that runs the functions of
// the registry when invoked.
//
// The payload of an invocation is a JSON string holding a base64 encoded
// RunRequest. The handler replies with a RunResponse encoded the same
// way.
func Handler(registry *dispatch.FunctionRegistry) lambda.Handler {
	return handler{registry}
}

type handler struct{ registry *dispatch.FunctionRegistry }

func (h handler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, badRequest("empty payload")
	}
	if len(payload) < 2 {
		return nil, badRequest("payload is too short")
	}
	if payload[0] != '"' || payload[len(payload)-1] != '"' {
		return nil, badRequest("payload is not a string")
	}
	payload = payload[1 : len(payload)-1]

	rawPayload := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(rawPayload, payload)
	if err != nil {
		return nil, badRequest("payload is not base64 encoded")
	}

	req := new(sdkv1.RunRequest)
	if err := proto.Unmarshal(rawPayload[:n], req); err != nil {
		return nil, badRequest("raw payload did not contain a protobuf encoded run request")
	}

	if lc, ok := lambdacontext.FromContext(ctx); ok {
		slog.Debug("running Dispatch function", "function", req.GetFunction(), "aws_request_id", lc.AwsRequestID)
	}

	res := h.registry.Run(ctx, req)

	rawResponse, err := proto.Marshal(res)
	if err != nil {
		return nil, err
	}

	rawPayload = make([]byte, 2+base64.StdEncoding.EncodedLen(len(rawResponse)))
	i := len(rawPayload) - 1
	rawPayload[0] = '"'
	rawPayload[i] = '"'
	base64.StdEncoding.Encode(rawPayload[1:i], rawResponse)
	return rawPayload, nil
}

func badRequest(msg string) messages.InvokeResponse_Error {
	return messages.InvokeResponse_Error{
		Type:    "Bad Request",
		Message: msg,
	}
}
