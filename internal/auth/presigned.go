package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// authenticatePresigned verifies a query-string signed request as produced by
// S3 pre-signing. The payload of such requests is never signed.
func (e *AwsHmacAuthEngine) authenticatePresigned(r *http.Request) error {
	q := r.URL.Query()

	if alg := q.Get("X-Amz-Algorithm"); alg != AWSv4Algorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedSignature, alg)
	}

	signatureHex := q.Get(signatureParam)
	signedHeadersStr := q.Get("X-Amz-SignedHeaders")
	amzDate := q.Get("X-Amz-Date")
	expiresStr := q.Get("X-Amz-Expires")
	if signatureHex == "" || signedHeadersStr == "" || amzDate == "" || expiresStr == "" {
		return fmt.Errorf("%w: incomplete pre-signed query", ErrMalformedSignature)
	}

	cred, err := ParseCredential(q.Get("X-Amz-Credential"))
	if err != nil {
		return err
	}
	if err := e.checkCredential(cred); err != nil {
		return err
	}

	signedAt, err := time.Parse(AmzDateFormat, amzDate)
	if err != nil {
		return fmt.Errorf("%w: X-Amz-Date %q", ErrMalformedSignature, amzDate)
	}
	if signedAt.Format(amzScopeFormat) != cred.Date {
		return fmt.Errorf("%w: X-Amz-Date does not match credential date", ErrMalformedSignature)
	}

	expires, err := strconv.Atoi(expiresStr)
	if err != nil || expires <= 0 || time.Duration(expires)*time.Second > maxPresignedTTL {
		return fmt.Errorf("%w: X-Amz-Expires %q", ErrMalformedSignature, expiresStr)
	}

	if e.now().After(signedAt.Add(time.Duration(expires) * time.Second)) {
		return ErrRequestExpired
	}

	return e.verify(r, cred, amzDate, strings.Split(signedHeadersStr, ";"), UnsignedPayload, signatureHex)
}
