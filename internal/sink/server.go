// Package sink implements a local S3-style PUT endpoint that records exactly
// what it received. It is the loopback target for the probe.
package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"putprobe/internal/archive"
	"putprobe/internal/auth"
	"putprobe/internal/storage"
	"strconv"
	"sync"
	"time"
)

// MaxObjectSize bounds the payload the sink accepts in a single PUT.
const MaxObjectSize = 64 << 20

type Config struct {
	// Region is reported in the x-amz-bucket-region response header.
	Region string
	// Status is the status answered to every PUT. Defaults to 200.
	Status int
	// Body replaces the generated S3 error document for non-2xx statuses.
	Body string
	// Authenticator, when set, must accept a request before it is stored.
	Authenticator auth.AuthEngine
	// Engine keeps accepted objects. Defaults to a MemoryStorage.
	Engine storage.StorageEngine
}

// Capture is one request as the sink received it, before authentication.
type Capture struct {
	Method        string
	RequestURI    string
	Host          string
	Header        http.Header
	ContentLength int64
	BodySize      int64
	BodySHA256    string
	ReceivedAt    time.Time
}

// Server records every request and serves stored objects back.
type Server struct {
	cfg Config

	mu       sync.Mutex
	captures []Capture
}

// NewServer validates cfg and returns a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Status == 0 {
		cfg.Status = http.StatusOK
	}
	// 1xx statuses are informational and would be followed by an implicit 200.
	if cfg.Status < 200 || cfg.Status > 599 {
		return nil, fmt.Errorf("invalid response status %d: must be a final status in [200, 599]", cfg.Status)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Engine == nil {
		cfg.Engine = storage.NewMemoryStorage()
	}

	return &Server{cfg: cfg}, nil
}

// Last returns the most recent capture.
func (s *Server) Last() (Capture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.captures) == 0 {
		return Capture{}, false
	}
	return s.captures[len(s.captures)-1], true
}

// Captures returns every capture in arrival order.
func (s *Server) Captures() []Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Capture(nil), s.captures...)
}

// Record is middleware that reads the whole body, stores a Capture and hands
// the buffered body on.
func (s *Server) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data []byte
		if r.Body != nil {
			var err error
			data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxObjectSize))
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeS3Error(w, "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", r.URL.Path, http.StatusRequestEntityTooLarge)
					return
				}
				slog.Error("Failed to read request body", "error", err)
				writeInternalError(w, r)
				return
			}
		}

		sum := sha256.Sum256(data)
		capture := Capture{
			Method:        r.Method,
			RequestURI:    r.RequestURI,
			Host:          r.Host,
			Header:        r.Header.Clone(),
			ContentLength: r.ContentLength,
			BodySize:      int64(len(data)),
			BodySHA256:    hex.EncodeToString(sum[:]),
			ReceivedAt:    time.Now().UTC(),
		}

		s.mu.Lock()
		s.captures = append(s.captures, capture)
		s.mu.Unlock()

		if capture.ContentLength >= 0 && capture.ContentLength != capture.BodySize {
			slog.Warn("Body size differs from Content-Length", "content_length", capture.ContentLength, "body_size", capture.BodySize)
		}

		r.Body = io.NopCloser(bytes.NewReader(data))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleObjectPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeInternalError(w, r)
		return
	}

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		if entries, err := archive.Entries(data); err == nil {
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				names = append(names, entry.Name)
			}
			slog.Debug("Received archive", "bucket", bucket, "key", key, "entries", names)
		}
	}

	w.Header().Set("x-amz-bucket-region", s.cfg.Region)

	if s.cfg.Status < 200 || s.cfg.Status >= 300 {
		if s.cfg.Body != "" {
			w.WriteHeader(s.cfg.Status)
			_, _ = io.WriteString(w, s.cfg.Body)
			return
		}
		code, message := errorCodeForStatus(s.cfg.Status)
		writeS3Error(w, code, message, r.URL.Path, s.cfg.Status)
		return
	}

	info, err := s.cfg.Engine.PutObject(bucket, key, r.Header.Get("Content-Type"), data)
	if err != nil {
		slog.Error("Failed to store object", "bucket", bucket, "key", key, "error", err)
		writeInternalError(w, r)
		return
	}

	w.Header().Set("ETag", info.ETag)
	w.WriteHeader(s.cfg.Status)
	if s.cfg.Body != "" {
		_, _ = io.WriteString(w, s.cfg.Body)
	}
}

func (s *Server) handleObjectGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	data, info, err := s.cfg.Engine.GetObject(bucket, key)
	if errors.Is(err, storage.ErrNoSuchObject) {
		writeNoSuchKeyError(w, r)
		return
	}
	if err != nil {
		writeInternalError(w, r)
		return
	}

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleObjectHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	info, err := s.cfg.Engine.StatObject(bucket, key)
	if errors.Is(err, storage.ErrNoSuchObject) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if err := s.cfg.Engine.DeleteObject(bucket, key); err != nil {
		writeInternalError(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeObjectHeaders(w http.ResponseWriter, info storage.ObjectInfo) {
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", info.LastModified.Format(http.TimeFormat))
}
