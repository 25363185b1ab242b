package probe

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	footprintRule = "-----------------------------------------------------"
	responseRule  = "--------------------------------------------------"

	EmptyBodyPlaceholder = "(No body in response)"
	SuccessVerdict       = "✅ VERDICT: SUCCESS. The request structure above is valid."
	FailureVerdict       = "❌ VERDICT: FAILURE. The server rejected the request."
	RequestFailedPrefix  = "❌ REQUEST FAILED: "
)

// WriteFootprint prints everything about the request before it is sent.
func WriteFootprint(w io.Writer, prep *Prepared) error {
	bw := bufio.NewWriter(w)
	fp := prep.Footprint

	fmt.Fprintln(bw, "--- 🔍 REQUEST FOOTPRINT (What the client is sending) ---")
	fmt.Fprintf(bw, "%s %s\n", fp.Method, fp.RequestURI)

	if prep.IsPresigned {
		info := prep.Presigned
		fmt.Fprintln(bw, "\n[PRESIGNED URL]")
		fmt.Fprintf(bw, "  Algorithm: %s\n", info.Algorithm)
		if info.Credential.Date != "" {
			fmt.Fprintf(bw, "  Credential scope: %s\n", info.Credential.Scope())
		}
		if !info.SignedAt.IsZero() {
			fmt.Fprintf(bw, "  Signed at: %s\n", info.SignedAt.UTC().Format(time.RFC3339))
		}
		if at := info.ExpiresAt(); !at.IsZero() {
			fmt.Fprintf(bw, "  Expires at: %s (valid for %s)\n", at.UTC().Format(time.RFC3339), info.Expires)
		}
		fmt.Fprintf(bw, "  Signed headers: %s\n", strings.Join(info.SignedHeaders, ";"))
	}

	fmt.Fprintln(bw, "\n[HEADERS]")
	for _, h := range fp.Headers {
		fmt.Fprintf(bw, "  %s: %s\n", h.Name, h.Value)
	}

	fmt.Fprintln(bw, "\n[BODY]")
	fmt.Fprintf(bw, "  Type: Binary Data (detected %s)\n", prep.DetectedType)
	fmt.Fprintf(bw, "  Size: %d bytes\n", fp.BodySize)
	fmt.Fprintf(bw, "  Content (first %d bytes): %q...\n", len(fp.BodySample), fp.BodySample)

	if len(prep.Warnings) > 0 {
		fmt.Fprintln(bw, "\n[CHECKS]")
		for _, warning := range prep.Warnings {
			fmt.Fprintf(bw, "  WARNING: %s\n", warning)
		}
	}

	fmt.Fprintln(bw, footprintRule)
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Sending the prepared request to the server...")

	return bw.Flush()
}

// WriteResult prints the response, the wire check and the verdict, or the
// transport failure.
func WriteResult(w io.Writer, res Result, timeout time.Duration) error {
	bw := bufio.NewWriter(w)

	if res.Verdict == VerdictTransportError {
		fmt.Fprintf(bw, "\n%s%v\n", RequestFailedPrefix, res.Err)
		if res.TimedOut {
			fmt.Fprintf(bw, "  No response within %s.\n", timeout)
		}
		if res.Wire.Observed {
			writeWireCheck(bw, res.Wire)
		}
		return bw.Flush()
	}

	fmt.Fprintln(bw, "\n--- RESPONSE (What the Server Sent Back) ---")
	fmt.Fprintf(bw, "Status: %d %s\n", res.StatusCode, res.Reason)
	fmt.Fprintf(bw, "Protocol: %s\n", res.Proto)

	fmt.Fprintln(bw, "\n[RESPONSE HEADERS]")
	names := make([]string, 0, len(res.Header))
	for name := range res.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range res.Header[name] {
			fmt.Fprintf(bw, "  %s: %s\n", name, v)
		}
	}

	fmt.Fprintln(bw, "\n[RESPONSE BODY]")
	if res.Body == "" {
		fmt.Fprintln(bw, EmptyBodyPlaceholder)
	} else {
		fmt.Fprintln(bw, res.Body)
		if res.Truncated {
			fmt.Fprintf(bw, "(truncated after %d bytes)\n", maxResponseBody)
		}
	}

	writeWireCheck(bw, res.Wire)
	fmt.Fprintln(bw, responseRule)
	fmt.Fprintln(bw)

	if res.Verdict == VerdictSuccess {
		fmt.Fprintln(bw, SuccessVerdict)
	} else {
		fmt.Fprintln(bw, FailureVerdict)
	}

	return bw.Flush()
}

func writeWireCheck(w io.Writer, check WireCheck) {
	fmt.Fprintln(w, "\n[WIRE CHECK]")
	if !check.Observed {
		fmt.Fprintln(w, "  The transport reported no header fields.")
		return
	}

	if len(check.Missing) == 0 && len(check.Unexpected) == 0 {
		fmt.Fprintln(w, "  Headers on the wire match the footprint.")
	}
	for _, f := range check.Missing {
		fmt.Fprintf(w, "  MISSING on the wire: %s: %s\n", f.Name, f.Value)
	}
	for _, f := range check.Unexpected {
		fmt.Fprintf(w, "  ADDED by the transport: %s: %s\n", f.Name, f.Value)
	}

	fmt.Fprintf(w, "  Body bytes sent: %d of %d\n", check.BodySent, check.BodySize)
}
