package dispatchtest

import (
	"net/http"
	"net/http/httptest"

	"github.com/dispatchrun/dispatch-runtime"
)

// NewEndpoint creates a Dispatch endpoint, like dispatch.NewEndpoint.
//
// Unlike dispatch.NewEndpoint, it starts a test server that serves the
// endpoint. Closing the server does not close the endpoint.
func NewEndpoint(opts ...dispatch.EndpointOption) (*dispatch.Endpoint, *EndpointServer, error) {
	endpoint, err := dispatch.NewEndpoint(opts...)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(endpoint.Handler())
	server := httptest.NewServer(mux)

	return endpoint, &EndpointServer{server}, nil
}

// EndpointServer is a server serving a Dispatch endpoint.
type EndpointServer struct {
	server *httptest.Server
}

// Client returns a client that can be used to interact with the
// Dispatch endpoint.
func (e *EndpointServer) Client(opts ...EndpointClientOption) (*EndpointClient, error) {
	opts = append([]EndpointClientOption{WithClient(e.server.Client())}, opts...)
	return NewEndpointClient(e.server.URL, opts...)
}

// URL is the URL of the server.
func (e *EndpointServer) URL() string {
	return e.server.URL
}

// Close closes the server.
func (e *EndpointServer) Close() {
	e.server.Close()
}
