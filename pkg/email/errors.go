package email

import "strings"

// ErrorDetail is the provider error payload attached to rejected requests
// and failed operations. It is passed through opaquely; the client never
// interprets individual codes.
type ErrorDetail struct {
	AdditionalInfo []AdditionalInfo `json:"additionalInfo,omitempty"`
	Code           string           `json:"code,omitempty"`
	Message        string           `json:"message,omitempty"`
	Target         string           `json:"target,omitempty"`
}

// AdditionalInfo is a single supplementary entry of an error payload. Entry
// order is preserved as received.
type AdditionalInfo struct {
	Info string `json:"info,omitempty"`
	Type string `json:"type,omitempty"`
}

// ErrorResponse is the body shape of a non-2xx service response.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// String renders the detail for logs: "code: message (target)" with empty
// parts left out.
func (d *ErrorDetail) String() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	if d.Code != "" {
		b.WriteString(d.Code)
	}
	if d.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(d.Message)
	}
	if d.Target != "" {
		b.WriteString(" (")
		b.WriteString(d.Target)
		b.WriteString(")")
	}
	return b.String()
}
