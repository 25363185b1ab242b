package sink

import (
	"encoding/xml"
	"net/http"
)

// S3Error is the XML error document S3-compatible services answer with.
type S3Error struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId,omitempty"`
}

func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeNoSuchKeyError writes a generic S3 NoSuchKey error response.
func writeNoSuchKeyError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

// writeInternalError writes a generic S3 InternalError response.
func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
}

// errorCodeForStatus picks the S3 error code a real service would most
// likely send with status.
func errorCodeForStatus(status int) (string, string) {
	switch status {
	case http.StatusBadRequest:
		return "InvalidRequest", "Invalid Request"
	case http.StatusForbidden:
		return "AccessDenied", "Access Denied"
	case http.StatusNotFound:
		return "NoSuchBucket", "The specified bucket does not exist."
	case http.StatusRequestEntityTooLarge:
		return "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size."
	case http.StatusServiceUnavailable:
		return "SlowDown", "Please reduce your request rate."
	case http.StatusNotImplemented:
		return "NotImplemented", "A header you provided implies functionality that is not implemented."
	default:
		if status >= 500 {
			return "InternalError", "We encountered an internal error. Please try again."
		}
		return "InvalidRequest", http.StatusText(status)
	}
}
