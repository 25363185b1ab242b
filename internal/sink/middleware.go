package sink

import (
	"errors"
	"log/slog"
	"net/http"
	"putprobe/internal/auth"
	"putprobe/internal/presign"
	"time"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type LogEntry struct {
	IP         string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest is middleware that logs incoming HTTP requests. Signatures in
// pre-signed URLs and Authorization headers never reach the log.
func (s *Server) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		entry := LogEntry{
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    presign.Redact(r.URL),
			Proto:  r.Proto,
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}

		if slog.Default().Enabled(r.Context(), slog.LevelDebug) {
			var headerAttrs []any
			for key, values := range r.Header {
				for _, value := range values {
					if key == "Authorization" || key == "Cookie" {
						value = "[REDACTED]"
					}
					headerAttrs = append(headerAttrs, slog.String(key, value))
				}
			}

			slog.Debug("Request Headers", slog.Group("headers", headerAttrs...))
		}
	})
}

// RequireAuthentication is middleware that rejects requests whose SigV4
// signature, in the header or in a pre-signed query, does not verify.
func (s *Server) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		authorized, err := s.cfg.Authenticator.AuthenticateRequest(ctx, r)
		if authorized && err == nil {
			next.ServeHTTP(w, r)
			return
		}

		slog.Debug("Authentication failed", "path", r.URL.Path, "error", err)

		switch {
		case errors.Is(err, auth.ErrRequestExpired):
			writeS3Error(w, "AccessDenied", "Request has expired", r.URL.Path, http.StatusForbidden)
		case errors.Is(err, auth.ErrSignatureMismatch):
			writeS3Error(w, "SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided.", r.URL.Path, http.StatusForbidden)
		case errors.Is(err, auth.ErrUnknownAccessKey):
			writeS3Error(w, "InvalidAccessKeyId", "The AWS Access Key Id you provided does not exist in our records.", r.URL.Path, http.StatusForbidden)
		case errors.Is(err, auth.ErrWrongRegion), errors.Is(err, auth.ErrMalformedSignature):
			writeS3Error(w, "AuthorizationQueryParametersError", err.Error(), r.URL.Path, http.StatusBadRequest)
		default:
			writeS3Error(w, "AccessDenied", "Access Denied", r.URL.Path, http.StatusForbidden)
		}
	})
}

func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr)

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
