package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"buf.build/gen/go/stealthrocket/dispatch-proto/connectrpc/go/dispatch/sdk/v1/sdkv1connect"
	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"connectrpc.com/connect"
	"connectrpc.com/validate"
	"github.com/dispatchrun/dispatch-runtime/internal/auth"
	"github.com/dispatchrun/dispatch-runtime/internal/env"
)

// Endpoint serves Dispatch functions. Each function call runs as a task
// on the endpoint's Runtime.
type Endpoint struct {
	runtime         *Runtime
	ownsRuntime     bool
	verificationKey string
	serveAddr       string
	env             []string
	logger          *slog.Logger

	path    string
	handler http.Handler

	registry FunctionRegistry

	mu     sync.Mutex
	server *http.Server
}

// NewEndpoint creates a Dispatch endpoint.
func NewEndpoint(opts ...EndpointOption) (*Endpoint, error) {
	e := &Endpoint{
		env: os.Environ(),
	}
	for _, opt := range opts {
		opt.configureEndpoint(e)
	}

	// Prepare the runtime.
	if e.runtime == nil {
		r, err := New(WithEnv(e.env...), WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.runtime = r
		e.ownsRuntime = true
	}
	if e.logger == nil {
		e.logger = e.runtime.logger
	}
	e.registry.Bind(e.runtime)

	// Prepare the address to serve on.
	if e.serveAddr == "" {
		e.serveAddr = env.Get(e.env, "DISPATCH_ENDPOINT_ADDR")
		if e.serveAddr == "" {
			e.serveAddr = "127.0.0.1:8000"
		}
	}

	var err error
	defer func() {
		if err != nil && e.ownsRuntime {
			e.runtime.Close()
		}
	}()

	// Prepare the verification key.
	var verificationKeyFromEnv bool
	if e.verificationKey == "" {
		e.verificationKey = env.Get(e.env, "DISPATCH_VERIFICATION_KEY")
		verificationKeyFromEnv = true
	}
	var verifier *auth.Verifier
	if e.verificationKey != "" {
		verificationKey, parseErr := auth.ParsePublicKey(e.verificationKey)
		if parseErr != nil {
			if verificationKeyFromEnv {
				err = fmt.Errorf("%w: invalid DISPATCH_VERIFICATION_KEY: %v", ErrInvalidArgument, e.verificationKey)
			} else {
				err = fmt.Errorf("%w: invalid verification key provided via WithVerificationKey(..): %v", ErrInvalidArgument, e.verificationKey)
			}
			return nil, err
		}
		var maxAge time.Duration
		if maxAge, err = env.Duration(e.env, "DISPATCH_VERIFICATION_MAX_AGE", auth.DefaultMaxAge); err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			return nil, err
		}
		verifier = auth.NewVerifier(verificationKey,
			auth.WithMaxAge(maxAge),
			auth.WithLogger(e.logger))
	}

	// Setup the gRPC handler.
	validator, err := validate.NewInterceptor()
	if err != nil {
		return nil, err
	}
	e.path, e.handler = sdkv1connect.NewFunctionServiceHandler(endpointHandler{e}, connect.WithInterceptors(validator))

	// Setup request signature validation.
	if verifier == nil {
		e.logger.Warn("Dispatch request signature validation is disabled")
	} else {
		e.handler = verifier.Middleware(e.handler)
	}
	return e, nil
}

// EndpointOption configures an Endpoint.
type EndpointOption interface {
	configureEndpoint(e *Endpoint)
}

type endpointOptionFunc func(e *Endpoint)

func (fn endpointOptionFunc) configureEndpoint(e *Endpoint) {
	fn(e)
}

// WithRuntime sets the runtime that function calls run on.
//
// The endpoint does not close a runtime that it was given. By default,
// the endpoint creates its own runtime, configured from the environment,
// and closes it in Close.
func WithRuntime(r *Runtime) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) { e.runtime = r })
}

// WithVerificationKey sets the verification key to use when verifying
// Dispatch request signatures.
//
// The key should be a PEM or base64-encoded ed25519 public key.
//
// It defaults to the value of the DISPATCH_VERIFICATION_KEY environment
// variable value.
//
// If a verification key is not provided, request signatures will
// not be validated.
func WithVerificationKey(verificationKey string) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) { e.verificationKey = verificationKey })
}

// WithServeAddress sets the address that the endpoint is served on (see
// Endpoint.Serve).
//
// It defaults to the value of the DISPATCH_ENDPOINT_ADDR environment
// variable. If this is unset, it defaults to 127.0.0.1:8000.
func WithServeAddress(addr string) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) { e.serveAddr = addr })
}

// WithEndpointLogger sets the logger that the endpoint reports to.
//
// It defaults to the logger of the endpoint's runtime.
func WithEndpointLogger(logger *slog.Logger) EndpointOption {
	return endpointOptionFunc(func(e *Endpoint) { e.logger = logger })
}

// Register registers functions.
func (e *Endpoint) Register(fns ...AnyFunction) {
	e.registry.Register(fns...)
}

// Runtime is the runtime that function calls run on.
func (e *Endpoint) Runtime() *Runtime {
	return e.runtime
}

// Handler returns an HTTP handler for the endpoint, along with the path
// that the handler should be registered at.
func (e *Endpoint) Handler() (string, http.Handler) {
	return e.path, e.handler
}

// Serve serves the endpoint on the serve address.
//
// It blocks until the endpoint is closed, in which case it returns nil.
func (e *Endpoint) Serve() error {
	ln, err := net.Listen("tcp", e.serveAddr)
	if err != nil {
		return err
	}
	return e.serve(ln)
}

func (e *Endpoint) serve(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(e.Handler())

	server := &http.Server{Handler: mux}

	e.mu.Lock()
	if e.server != nil {
		e.mu.Unlock()
		ln.Close()
		return fmt.Errorf("endpoint is already serving on %s", e.serveAddr)
	}
	e.server = server
	e.mu.Unlock()

	e.logger.Info("serving Dispatch endpoint", "addr", ln.Addr().String())

	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops serving the endpoint, and closes the runtime if the
// endpoint created it.
//
// Function calls that are still running complete with ErrClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	server := e.server
	e.mu.Unlock()

	var errs []error
	if server != nil {
		errs = append(errs, server.Close())
	}
	if e.ownsRuntime {
		errs = append(errs, e.runtime.Close())
	}
	errs = append(errs, e.registry.Close())
	return errors.Join(errs...)
}

// The gRPC handler is deliberately unexported. This forces
// the user to access it through Endpoint.Handler, and get
// a handler that has signature verification middleware attached.
type endpointHandler struct{ endpoint *Endpoint }

func (h endpointHandler) Run(ctx context.Context, req *connect.Request[sdkv1.RunRequest]) (*connect.Response[sdkv1.RunResponse], error) {
	res := h.endpoint.registry.Run(ctx, req.Msg)
	return connect.NewResponse(res), nil
}
