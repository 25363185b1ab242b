// Package presign inspects, redacts and mints pre-signed S3 PUT URLs.
package presign

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"putprobe/internal/auth"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const Redacted = "REDACTED"

// DefaultExpiry matches the lifetime storage providers commonly hand out.
const DefaultExpiry = 15 * time.Minute

// Info describes the SigV4 query parameters of a pre-signed URL.
type Info struct {
	Algorithm     string
	Credential    auth.Credential
	SignedAt      time.Time
	Expires       time.Duration
	SignedHeaders []string
	HasSignature  bool
}

// Parse extracts the pre-signing parameters of u. The second return value is
// false when u carries no X-Amz-Algorithm parameter at all.
func Parse(u *url.URL) (Info, bool) {
	q := u.Query()

	alg := q.Get("X-Amz-Algorithm")
	if alg == "" {
		return Info{}, false
	}

	info := Info{
		Algorithm:    alg,
		HasSignature: q.Get("X-Amz-Signature") != "",
	}

	if cred, err := auth.ParseCredential(q.Get("X-Amz-Credential")); err == nil {
		info.Credential = cred
	}

	if t, err := time.Parse(auth.AmzDateFormat, q.Get("X-Amz-Date")); err == nil {
		info.SignedAt = t
	}

	if secs, err := strconv.Atoi(q.Get("X-Amz-Expires")); err == nil && secs > 0 {
		info.Expires = time.Duration(secs) * time.Second
	}

	if sh := q.Get("X-Amz-SignedHeaders"); sh != "" {
		info.SignedHeaders = strings.Split(sh, ";")
	}

	return info, true
}

// ExpiresAt returns the instant after which the URL is rejected, or the zero
// time when the URL does not say.
func (i Info) ExpiresAt() time.Time {
	if i.SignedAt.IsZero() || i.Expires == 0 {
		return time.Time{}
	}
	return i.SignedAt.Add(i.Expires)
}

// Expired reports whether the URL is already past its expiry at now.
func (i Info) Expired(now time.Time) bool {
	at := i.ExpiresAt()
	return !at.IsZero() && now.After(at)
}

// Redact returns u with the URL password, the signature and the access key
// of the credential replaced. Every other query parameter is kept in its
// original order.
func Redact(u *url.URL) string {
	redacted := *u
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			redacted.User = url.UserPassword(u.User.Username(), Redacted)
		}
	}

	if u.RawQuery == "" {
		return redacted.String()
	}

	parts := strings.Split(u.RawQuery, "&")
	for i, p := range parts {
		key, value, _ := strings.Cut(p, "=")
		switch key {
		case "X-Amz-Signature", "X-Amz-Security-Token":
			parts[i] = key + "=" + Redacted
		case "X-Amz-Credential":
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				parts[i] = key + "=" + Redacted
				continue
			}
			if _, scope, ok := strings.Cut(decoded, "/"); ok {
				parts[i] = key + "=" + url.QueryEscape(Redacted+"/"+scope)
			} else {
				parts[i] = key + "=" + Redacted
			}
		}
	}

	redacted.RawQuery = strings.Join(parts, "&")
	return redacted.String()
}

// RedactRequestURI is like Redact but returns only the path and query.
func RedactRequestURI(u *url.URL) string {
	r, err := url.Parse(Redact(u))
	if err != nil {
		return u.EscapedPath()
	}
	return r.RequestURI()
}

// ObjectKey returns a fresh object key below prefix.
func ObjectKey(prefix string) string {
	name := uuid.New().String() + ".zip"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Generate pre-signs a PUT of bucket/key valid for expiry.
func Generate(ctx context.Context, client *minio.Client, bucket string, key string, expiry time.Duration) (*url.URL, error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	u, err := client.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to pre-sign PUT for %q/%q: %w", bucket, key, err)
	}
	return u, nil
}
