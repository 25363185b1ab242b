package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	AWSv4Algorithm  = "AWS4-HMAC-SHA256"
	AWSv4Prefix     = AWSv4Algorithm + " "
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	AmzDateFormat   = "20060102T150405Z"
	amzScopeFormat  = "20060102"
	maxPresignedTTL = 7 * 24 * time.Hour
	scopeTerminator = "aws4_request"
	signatureParam  = "X-Amz-Signature"
)

// AwsHmacAuthEngine verifies AWS Signature Version 4 requests, both those
// signed through the Authorization header and pre-signed URLs that carry the
// signature in the query string.
type AwsHmacAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string

	// Region, when set, must match the region of the credential scope.
	Region string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewAwsHmacAuthEngine creates a new AwsHmacAuthEngine with the given access key ID
// and secret access key.
func NewAwsHmacAuthEngine(accessKeyID string, secretAccessKey string, region string) *AwsHmacAuthEngine {
	return &AwsHmacAuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Region:          region,
		Now:             time.Now,
	}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

// canonicalQueryString encodes the query of u, leaving out the signature
// itself so pre-signed URLs hash the same query they were signed with.
func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == signatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			encodedKey := awsURLEncode(k, true)
			encodedVal := awsURLEncode(v, true)
			parts = append(parts, encodedKey+"="+encodedVal)
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	fields := strings.Fields(v)
	return strings.Join(fields, " ")
}

func BuildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash string) string {
	canonicalURI := awsURLEncode(r.URL.Path, false)
	if canonicalURI == "" {
		canonicalURI = "/"
	}
	canonicalQS := canonicalQueryString(r.URL)

	// Headers
	lowerNames := make([]string, len(signedHeaderNames))
	for i, h := range signedHeaderNames {
		lowerNames[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var hdrBuilder strings.Builder
	for _, name := range lowerNames {
		if name == "" {
			continue
		}
		var value string
		switch name {
		case "host":
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		case "content-length":
			value = r.Header.Get(name)
			if value == "" && r.ContentLength >= 0 {
				value = strconv.FormatInt(r.ContentLength, 10)
			}
		default:
			value = strings.Join(r.Header.Values(name), ",")
		}
		value = canonicalHeaderValue(value)
		hdrBuilder.WriteString(name)
		hdrBuilder.WriteString(":")
		hdrBuilder.WriteString(value)
		hdrBuilder.WriteString("\n")
	}
	canonicalHeaders := hdrBuilder.String()
	canonicalSignedHeaders := strings.Join(lowerNames, ";")

	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("\n")
	b.WriteString(canonicalURI)
	b.WriteString("\n")
	b.WriteString(canonicalQS)
	b.WriteString("\n")
	b.WriteString(canonicalHeaders)
	b.WriteString("\n")
	b.WriteString(canonicalSignedHeaders)
	b.WriteString("\n")
	b.WriteString(payloadHash)

	return b.String()
}

func HmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// StringToSign assembles the SigV4 string to sign for a canonical request.
func StringToSign(amzDate string, credentialScope string, canonicalRequest string) string {
	crHash := sha256.Sum256([]byte(canonicalRequest))

	var b strings.Builder
	b.WriteString(AWSv4Algorithm)
	b.WriteString("\n")
	b.WriteString(amzDate)
	b.WriteString("\n")
	b.WriteString(credentialScope)
	b.WriteString("\n")
	b.WriteString(hex.EncodeToString(crHash[:]))
	return b.String()
}

// Sign derives the signing key for the given scope and returns the signature
// of stringToSign.
func Sign(secretAccessKey string, dateStamp string, region string, service string, stringToSign string) []byte {
	kSecret := []byte("AWS4" + secretAccessKey)
	kDate := HmacSHA256(kSecret, dateStamp)
	kRegion := HmacSHA256(kDate, region)
	kService := HmacSHA256(kRegion, service)
	kSigning := HmacSHA256(kService, scopeTerminator)
	return HmacSHA256(kSigning, stringToSign)
}

// Credential is a parsed SigV4 credential string of the form
// <access-key>/<date>/<region>/<service>/aws4_request.
type Credential struct {
	AccessKeyID string
	Date        string
	Region      string
	Service     string
}

// Scope returns the credential scope without the access key.
func (c Credential) Scope() string {
	return strings.Join([]string{c.Date, c.Region, c.Service, scopeTerminator}, "/")
}

// ParseCredential splits a SigV4 credential string.
func ParseCredential(s string) (Credential, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 5 || parts[4] != scopeTerminator {
		return Credential{}, fmt.Errorf("%w: credential %q", ErrMalformedSignature, s)
	}
	if parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return Credential{}, fmt.Errorf("%w: credential %q", ErrMalformedSignature, s)
	}
	return Credential{
		AccessKeyID: parts[0],
		Date:        parts[1],
		Region:      parts[2],
		Service:     parts[3],
	}, nil
}

func (e *AwsHmacAuthEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *AwsHmacAuthEngine) checkCredential(cred Credential) error {
	if cred.AccessKeyID != e.AccessKeyID {
		return ErrUnknownAccessKey
	}
	if e.Region != "" && cred.Region != e.Region {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongRegion, cred.Region, e.Region)
	}
	return nil
}

func (e *AwsHmacAuthEngine) verify(r *http.Request, cred Credential, amzDate string, signedHeaders []string, payloadHash string, signatureHex string) error {
	canonicalReq := BuildCanonicalRequest(r, signedHeaders, payloadHash)
	stringToSign := StringToSign(amzDate, cred.Scope(), canonicalReq)
	computed := Sign(e.SecretAccessKey, cred.Date, cred.Region, cred.Service, stringToSign)

	decoded, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrMalformedSignature)
	}

	if !hmac.Equal(computed, decoded) {
		return ErrSignatureMismatch
	}
	return nil
}

// AuthenticateRequest checks the request for a SigV4 signature, either in the
// Authorization header or in the query string of a pre-signed URL.
func (e *AwsHmacAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (bool, error) {
	switch {
	case strings.HasPrefix(r.Header.Get("Authorization"), AWSv4Prefix):
		if err := e.authenticateHeader(r); err != nil {
			return false, err
		}
		return true, nil
	case r.URL.Query().Get("X-Amz-Algorithm") != "":
		if err := e.authenticatePresigned(r); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, ErrNotSigned
	}
}

func (e *AwsHmacAuthEngine) authenticateHeader(r *http.Request) error {
	params := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), AWSv4Prefix))
	parts := strings.Split(params, ",")
	kv := make(map[string]string, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx := strings.IndexByte(p, '=')
		if idx <= 0 {
			continue
		}
		kv[p[:idx]] = strings.TrimSpace(p[idx+1:])
	}

	credStr, okCred := kv["Credential"]
	signedHeadersStr, okSigned := kv["SignedHeaders"]
	signatureHex, okSig := kv["Signature"]
	if !okCred || !okSigned || !okSig {
		return fmt.Errorf("%w: incomplete Authorization header", ErrMalformedSignature)
	}

	cred, err := ParseCredential(credStr)
	if err != nil {
		return err
	}
	if err := e.checkCredential(cred); err != nil {
		return err
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		return fmt.Errorf("%w: missing X-Amz-Date", ErrMalformedSignature)
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		return fmt.Errorf("%w: missing X-Amz-Content-Sha256", ErrMalformedSignature)
	}

	return e.verify(r, cred, amzDate, strings.Split(signedHeadersStr, ";"), payloadHash, signatureHex)
}
