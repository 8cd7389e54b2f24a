package dispatchtest

import (
	"testing"

	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"google.golang.org/protobuf/proto"
)

// AssertOutput asserts that a function returned the expected output.
func AssertOutput(t *testing.T, res *sdkv1.RunResponse, want proto.Message) {
	t.Helper()

	if res.GetStatus() != sdkv1.Status_STATUS_OK {
		t.Fatalf("unexpected status: got %v, want %v (response: %v)", res.GetStatus(), sdkv1.Status_STATUS_OK, res)
	}
	result := res.GetExit().GetResult()
	if result == nil {
		t.Fatalf("response is not an exit with a result: %v", res)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := result.GetOutput().UnmarshalNew()
	if err != nil {
		t.Fatalf("invalid output: %v", err)
	}
	if !proto.Equal(got, want) {
		t.Errorf("unexpected output: got %v, want %v", got, want)
	}
}

// AssertError asserts that a function failed with the expected status
// and error type.
//
// An empty errorType matches any error type.
func AssertError(t *testing.T, res *sdkv1.RunResponse, status sdkv1.Status, errorType string) {
	t.Helper()

	if res.GetStatus() != status {
		t.Errorf("unexpected status: got %v, want %v", res.GetStatus(), status)
	}
	err := res.GetExit().GetResult().GetError()
	if err == nil {
		t.Fatalf("response is not an exit with an error: %v", res)
	}
	if errorType != "" && err.GetType() != errorType {
		t.Errorf("unexpected error type: got %q, want %q (message: %q)", err.GetType(), errorType, err.GetMessage())
	}
}
