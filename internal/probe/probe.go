// Package probe sends a single pre-signed PUT and reports the exact request
// and response so an operator can compare them with what a storage provider
// expects.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"putprobe/internal/presign"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// maxResponseBody caps how much of a response body is printed.
const maxResponseBody = 1 << 20

// Prepared is a request that has been assembled and inspected but not sent.
type Prepared struct {
	Request      *http.Request
	Footprint    Footprint
	Presigned    presign.Info
	IsPresigned  bool
	DetectedType string
	Warnings     []string

	body []byte
}

// Result is the outcome of sending a Prepared request.
type Result struct {
	State      State
	Verdict    Verdict
	Footprint  Footprint
	StatusCode int
	Reason     string
	Proto      string
	Header     http.Header
	Body       string
	Truncated  bool
	Err        error
	TimedOut   bool
	Elapsed    time.Duration
	Wire       WireCheck
}

// ExitCode is the process exit status for r. Without strict every outcome
// exits 0, which is what an interactive operator expects.
func (r Result) ExitCode(strict bool) int {
	if strict && r.Verdict != VerdictSuccess {
		return 1
	}
	return 0
}

type Prober struct {
	cfg    Config
	client *http.Client
	out    io.Writer

	// Now returns the current time used for expiry checks.
	Now func() time.Time
}

// NewClient returns the client the probe sends with. Compression is disabled
// so the transport adds no Accept-Encoding header, and redirects are not
// followed so the response printed belongs to the request printed.
func NewClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewProber returns a Prober writing its transcript to out.
func NewProber(cfg Config, out io.Writer) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewClient(cfg.Timeout)
	}
	return &Prober{
		cfg:    cfg,
		client: client,
		out:    out,
		Now:    time.Now,
	}
}

// NewRequest assembles the PUT. Only Content-Type and User-Agent are set
// here; everything else is left to the transport.
func NewRequest(ctx context.Context, cfg Config, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build PUT request: %w", err)
	}

	if cfg.ContentType != "" {
		req.Header.Set("Content-Type", cfg.ContentType)
	}

	// An empty value is kept on purpose: it stops the transport from adding
	// its own User-Agent.
	req.Header["User-Agent"] = []string{cfg.UserAgent}

	return req, nil
}

// Prepare builds the request and resolves its footprint.
func (p *Prober) Prepare(ctx context.Context, body []byte) (*Prepared, error) {
	req, err := NewRequest(ctx, p.cfg, body)
	if err != nil {
		return nil, err
	}

	fp := ResolveFootprint(req, body, p.cfg.SampleSize)
	if p.cfg.Redact {
		fp.RequestURI = presign.RedactRequestURI(req.URL)
		fp.Headers = RedactFields(fp.Headers)
	}

	prep := &Prepared{
		Request:      req,
		Footprint:    fp,
		DetectedType: mimetype.Detect(body).String(),
		body:         body,
	}
	prep.Presigned, prep.IsPresigned = presign.Parse(req.URL)
	prep.Warnings = p.inspect(prep)

	return prep, nil
}

// inspect returns the problems visible before anything is sent.
func (p *Prober) inspect(prep *Prepared) []string {
	var warnings []string

	if !prep.IsPresigned {
		warnings = append(warnings, "URL carries no X-Amz-Algorithm; the request is not pre-signed")
	} else {
		info := prep.Presigned
		if !info.HasSignature {
			warnings = append(warnings, "pre-signed URL has no X-Amz-Signature parameter")
		}
		if now := p.Now(); info.Expired(now) {
			warnings = append(warnings, fmt.Sprintf("pre-signed URL expired at %s (%s ago)",
				info.ExpiresAt().UTC().Format(time.RFC3339), now.Sub(info.ExpiresAt()).Round(time.Second)))
		}
		for _, name := range info.SignedHeaders {
			if _, ok := prep.Footprint.Header(name); !ok {
				warnings = append(warnings, fmt.Sprintf("signed header %q is not part of the request", name))
			}
		}
		if !p.cfg.Redact {
			warnings = append(warnings, "the signature is printed in clear; do not share this transcript")
		}
	}

	if p.cfg.ContentType != "" {
		if !matchesDetected(p.cfg.ContentType, prep.body) {
			warnings = append(warnings, fmt.Sprintf("declared Content-Type %q but the body looks like %q",
				p.cfg.ContentType, prep.DetectedType))
		}
	}

	return warnings
}

func matchesDetected(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "application/octet-stream" {
		return true
	}
	for m := mimetype.Detect(body); m != nil; m = m.Parent() {
		if m.Is(mediaType) {
			return true
		}
	}
	return false
}

// Send transmits prep once and waits at most the configured timeout.
func (p *Prober) Send(prep *Prepared) Result {
	res := Result{
		State:     StateBuilt,
		Footprint: prep.Footprint,
	}

	req := prep.Request
	sent := new(atomic.Int64)
	if len(prep.body) > 0 {
		req.Body = io.NopCloser(&countingReader{r: bytes.NewReader(prep.body), n: sent})
		req.GetBody = func() (io.ReadCloser, error) {
			sent.Store(0)
			return io.NopCloser(&countingReader{r: bytes.NewReader(prep.body), n: sent}), nil
		}
	}

	ctx := req.Context()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	rec := &wireRecorder{}
	req = req.WithContext(httptrace.WithClientTrace(ctx, rec.trace()))

	start := time.Now()
	res.State = StateSent
	resp, err := p.client.Do(req)
	if err != nil {
		res.Elapsed = time.Since(start)
		res.State = StateFailed
		res.Verdict = VerdictTransportError
		res.Err = p.redactError(err, prep.Request.URL)
		res.TimedOut = isTimeout(err)
		res.Wire = CompareWire(prep.Footprint, p.wireFields(rec), sent.Load())
		slog.Debug("Request failed", "error", res.Err, "timed_out", res.TimedOut)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Reason = strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	res.Proto = resp.Proto
	res.Header = resp.Header

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		slog.Warn("Failed to read response body", "error", err)
	}
	if len(data) > maxResponseBody {
		data = data[:maxResponseBody]
		res.Truncated = true
	}
	res.Body = string(data)
	res.Elapsed = time.Since(start)

	res.Verdict = Classify(resp.StatusCode)
	if res.Verdict == VerdictSuccess {
		res.State = StateCompleted
	} else {
		res.State = StateFailed
	}

	res.Wire = CompareWire(prep.Footprint, p.wireFields(rec), sent.Load())
	return res
}

// Run prepares, prints, sends and prints again. The returned error is
// reserved for requests that cannot even be built; transport failures are
// part of the Result.
func (p *Prober) Run(ctx context.Context, body []byte) (Result, error) {
	prep, err := p.Prepare(ctx, body)
	if err != nil {
		return Result{State: StateFailed, Verdict: VerdictTransportError, Err: err}, err
	}

	if err := WriteFootprint(p.out, prep); err != nil {
		return Result{State: StateBuilt}, fmt.Errorf("failed to write footprint: %w", err)
	}

	res := p.Send(prep)

	if err := WriteResult(p.out, res, p.cfg.Timeout); err != nil {
		return res, fmt.Errorf("failed to write result: %w", err)
	}

	slog.Info("Probe finished",
		"verdict", res.Verdict.String(),
		"status_code", res.StatusCode,
		"duration_ms", float64(res.Elapsed)/float64(time.Millisecond),
		"wire_match", res.Wire.OK(),
	)

	return res, nil
}

// wireFields returns the recorded fields, redacted the same way as the
// footprint so the two stay comparable.
func (p *Prober) wireFields(rec *wireRecorder) []HeaderField {
	if p.cfg.Redact {
		return RedactFields(rec.Fields())
	}
	return rec.Fields()
}

// Config returns the configuration p sends with.
func (p *Prober) Config() Config {
	return p.cfg
}

func (p *Prober) redactError(err error, u *url.URL) error {
	if !p.cfg.Redact {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = presign.Redact(u)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
