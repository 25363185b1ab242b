package auth

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotSigned          = errors.New("request carries no AWS signature")
	ErrMalformedSignature = errors.New("malformed AWS signature parameters")
	ErrUnknownAccessKey   = errors.New("unknown access key")
	ErrWrongRegion        = errors.New("credential scope names a different region")
	ErrRequestExpired     = errors.New("request has expired")
	ErrSignatureMismatch  = errors.New("signature does not match")
)

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. If valid, it returns true; otherwise, it
	// returns false together with the reason.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (bool, error)
}
