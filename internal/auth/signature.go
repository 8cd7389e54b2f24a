package auth

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/offblocks/httpsig"
)

var digestor = httpsig.NewDigestor(httpsig.WithDigestAlgorithms(httpsig.DigestAlgorithmSha512))

// Signer signs HTTP requests.
type Signer struct {
	signer *httpsig.Signer
}

// NewSigner creates a Signer that signs HTTP requests using the specified
// signing key, in the same way that Dispatch would sign requests.
func NewSigner(signingKey ed25519.PrivateKey) *Signer {
	return &Signer{
		signer: httpsig.NewSigner(
			httpsig.WithSignName("dispatch"),
			httpsig.WithSignEd25519("default", signingKey),
			httpsig.WithSignFields("@method", "@path", "@authority", "content-type", "content-digest"),
		),
	}
}

// Sign signs a request.
func (s *Signer) Sign(req *http.Request) error {
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	// Generate the Content-Digest header.
	digestHeaders, err := digestor.Digest(body)
	if err != nil {
		return fmt.Errorf("failed to generate content digest: %w", err)
	}
	for name, values := range digestHeaders {
		req.Header[name] = append(req.Header[name], values...)
	}

	// Sign the request.
	headers, err := s.signer.Sign(httpsig.MessageFromRequest(req))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header = headers
	return nil
}

// Client wraps an HTTP client to automatically sign requests.
func (s *Signer) Client(client connect.HTTPClient) *SigningClient {
	return &SigningClient{client, s}
}

// SigningClient is an HTTP client that automatically signs requests.
type SigningClient struct {
	client connect.HTTPClient
	signer *Signer
}

// Do signs and sends an HTTP request, and returns the HTTP response.
func (c *SigningClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.signer.Sign(req); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return c.client.Do(req)
}

// DefaultMaxAge is the default maximum age of a request signature.
const DefaultMaxAge = 5 * time.Minute

// Verifier verifies that requests were signed by Dispatch.
type Verifier struct {
	verifier  *httpsig.Verifier
	maxAge    time.Duration
	tolerance time.Duration
	logger    *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxAge sets how old a signature can be before it is rejected.
//
// It defaults to DefaultMaxAge.
func WithMaxAge(maxAge time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxAge = maxAge }
}

// WithTolerance sets how far in the future a signature can be created,
// to account for clock skew.
//
// It defaults to 5 seconds.
func WithTolerance(tolerance time.Duration) VerifierOption {
	return func(v *Verifier) { v.tolerance = tolerance }
}

// WithLogger sets the logger that rejected requests are reported to.
//
// It defaults to slog.Default().
func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a Verifier that verifies that requests were
// signed by Dispatch using the private key associated with this
// public verification key.
func NewVerifier(verificationKey ed25519.PublicKey, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		maxAge:    DefaultMaxAge,
		tolerance: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.verifier = httpsig.NewVerifier(
		httpsig.WithVerifyEd25519("default", verificationKey),
		httpsig.WithVerifyAll(true),
		httpsig.WithVerifyMaxAge(v.maxAge),
		httpsig.WithVerifyTolerance(v.tolerance),
		httpsig.WithVerifyRequiredParams("created"),
		// The httpsig library checks the strings below against marshaled
		// httpsfv items, hence the double quoting.
		httpsig.WithVerifyRequiredFields(`"@method"`, `"@path"`, `"@authority"`, `"content-type"`, `"content-digest"`),
	)
	return v
}

// Verify verifies that a request was signed by Dispatch.
func (v *Verifier) Verify(r *http.Request) error {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	// Verify the Content-Digest header.
	if _, ok := r.Header[httpsig.ContentDigestHeader]; !ok {
		return fmt.Errorf("missing Content-Digest header")
	} else if err := digestor.Verify(body, r.Header); err != nil {
		return fmt.Errorf("invalid Content-Digest header: %w", err)
	}

	// Verify the signature.
	if err := v.verifier.Verify(httpsig.MessageFromRequest(r)); err != nil {
		return fmt.Errorf("missing or invalid signature: %w", err)
	}
	return nil
}

// Middleware wraps an HTTP handler in order to validate request signatures.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			v.logger.Warn("request was not signed correctly", "method", r.Method, "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
