package probe

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
)

// wireRecorder collects the header fields the transport reports as written.
// The transport calls it from its own goroutines.
type wireRecorder struct {
	mu     sync.Mutex
	fields []HeaderField
}

func (w *wireRecorder) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		// A retried request obtains a new connection; only the last attempt
		// counts.
		GotConn: func(httptrace.GotConnInfo) {
			w.mu.Lock()
			w.fields = nil
			w.mu.Unlock()
		},
		WroteHeaderField: w.add,
	}
}

func (w *wireRecorder) add(key string, values []string) {
	name := key
	if strings.HasPrefix(key, ":") {
		// HTTP/2 pseudo headers; only the authority has an HTTP/1 equivalent.
		if key != ":authority" {
			return
		}
		name = "Host"
	}
	name = http.CanonicalHeaderKey(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range values {
		w.fields = append(w.fields, HeaderField{Name: name, Value: v})
	}
}

func (w *wireRecorder) Fields() []HeaderField {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]HeaderField(nil), w.fields...)
}

// countingReader counts the body bytes the transport actually reads.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// WireCheck compares the printed footprint with what reached the wire.
type WireCheck struct {
	// Observed is false when the transport never wrote the request.
	Observed   bool
	Missing    []HeaderField
	Unexpected []HeaderField
	BodySize   int64
	BodySent   int64
}

// OK reports whether the wire matched the footprint exactly.
func (c WireCheck) OK() bool {
	return c.Observed && len(c.Missing) == 0 && len(c.Unexpected) == 0 && c.BodySent == c.BodySize
}

// CompareWire matches printed and written header fields as multisets; the
// order is ignored because HTTP/2 writes fields in map order.
func CompareWire(fp Footprint, wire []HeaderField, bodySent int64) WireCheck {
	check := WireCheck{
		Observed: len(wire) > 0,
		BodySize: fp.BodySize,
		BodySent: bodySent,
	}
	if !check.Observed {
		return check
	}

	remaining := make(map[HeaderField]int, len(wire))
	for _, f := range wire {
		remaining[f]++
	}

	for _, f := range fp.Headers {
		f.Name = http.CanonicalHeaderKey(f.Name)
		if remaining[f] > 0 {
			remaining[f]--
			continue
		}
		check.Missing = append(check.Missing, f)
	}

	for _, f := range wire {
		if remaining[f] > 0 {
			remaining[f]--
			check.Unexpected = append(check.Unexpected, f)
		}
	}

	return check
}
