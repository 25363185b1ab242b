package probe

import (
	"encoding/base64"
	"net"
	"net/http"
	"putprobe/internal/presign"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// HeaderField is one header line as written on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Footprint is the fully resolved request: what the transport will write,
// including the fields it derives on its own.
type Footprint struct {
	Method     string
	RequestURI string
	Headers    []HeaderField
	BodySize   int64
	BodySample []byte
}

// Header returns the first value of name in the footprint.
func (f Footprint) Header(name string) (string, bool) {
	name = http.CanonicalHeaderKey(name)
	for _, h := range f.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// headers the transport writes itself and skips in req.Header.
var transportOwnedHeaders = map[string]bool{
	"Host":              true,
	"User-Agent":        true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Trailer":           true,
}

const defaultGoUserAgent = "Go-http-client/1.1"

// ResolveFootprint computes the header set an HTTP/1.1 client with
// compression disabled writes for req, in the order it writes them: Host,
// User-Agent, Content-Length, then the remaining headers sorted by name.
// Fields the client derives from the URL are included: the host in punycode
// and Basic credentials from its user info. body is the payload req was
// built from.
func ResolveFootprint(req *http.Request, body []byte, sampleSize int) Footprint {
	fp := Footprint{
		Method:     req.Method,
		RequestURI: req.URL.RequestURI(),
		BodySize:   int64(len(body)),
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	fp.Headers = append(fp.Headers, HeaderField{Name: "Host", Value: wireHost(host)})

	if ua, ok := req.Header["User-Agent"]; !ok {
		fp.Headers = append(fp.Headers, HeaderField{Name: "User-Agent", Value: defaultGoUserAgent})
	} else if len(ua) > 0 && ua[0] != "" {
		fp.Headers = append(fp.Headers, HeaderField{Name: "User-Agent", Value: wireValue(ua[0])})
	}

	if sendsContentLength(req.Method, req.ContentLength) {
		fp.Headers = append(fp.Headers, HeaderField{
			Name:  "Content-Length",
			Value: strconv.FormatInt(req.ContentLength, 10),
		})
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if u := req.URL.User; u != nil && header.Get("Authorization") == "" {
		password, _ := u.Password()
		header.Set("Authorization", "Basic "+basicAuth(u.Username(), password))
	}

	names := make([]string, 0, len(header))
	for name := range header {
		if transportOwnedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range header[name] {
			fp.Headers = append(fp.Headers, HeaderField{Name: name, Value: wireValue(v)})
		}
	}

	if sampleSize > len(body) {
		sampleSize = len(body)
	}
	if sampleSize > 0 {
		fp.BodySample = body[:sampleSize]
	}

	return fp
}

// sendsContentLength mirrors net/http: a known positive length is always
// sent and methods that expect a body send an explicit zero.
func sendsContentLength(method string, length int64) bool {
	if length > 0 {
		return true
	}
	if length < 0 {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// wireValue applies the sanitising net/http performs before writing a
// header value.
func wireValue(v string) string {
	v = headerNewlineToSpace.Replace(v)
	return strings.TrimSpace(v)
}

func basicAuth(username string, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// wireHost converts host to the form written in the Host header:
// internationalized names in punycode and IPv6 zones removed.
func wireHost(host string) string {
	return removeZone(punycodeHostPort(host))
}

func punycodeHostPort(v string) string {
	if isASCII(v) {
		return v
	}

	host, port, err := net.SplitHostPort(v)
	if err != nil {
		host, port = v, ""
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return v
	}
	if port == "" {
		return ascii
	}
	return net.JoinHostPort(ascii, port)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func removeZone(host string) string {
	if !strings.HasPrefix(host, "[") {
		return host
	}
	i := strings.LastIndex(host, "]")
	if i < 0 {
		return host
	}
	j := strings.LastIndex(host[:i], "%")
	if j < 0 {
		return host
	}
	return host[:j] + host[i:]
}

// redactAuthorization keeps the scheme of an Authorization value and hides
// the credentials.
func redactAuthorization(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " " + presign.Redacted
	}
	return presign.Redacted
}

// RedactFields returns fields with credentials in Authorization values
// hidden.
func RedactFields(fields []HeaderField) []HeaderField {
	out := make([]HeaderField, len(fields))
	for i, f := range fields {
		if http.CanonicalHeaderKey(f.Name) == "Authorization" {
			f.Value = redactAuthorization(f.Value)
		}
		out[i] = f
	}
	return out
}
