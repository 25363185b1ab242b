package sink

import (
	"net/http"
)

// Handler returns an http.Handler accepting object PUTs and serving them back.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectPut(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectGet(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectHead(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectDelete(ctx, w, r, bucket, key)
	})

	// Add middleware
	handler := s.RequireAuthentication(mux)
	handler = s.Record(handler)
	handler = s.LogRequest(handler)
	handler = s.Recoverer(handler)
	return handler
}
