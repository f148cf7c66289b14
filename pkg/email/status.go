package email

import (
	"encoding/json"
	"strings"
)

// SendStatus is the observed state of a long-running send operation.
type SendStatus int

const (
	// StatusUnknown covers status strings this client does not recognize.
	StatusUnknown SendStatus = iota
	StatusNotStarted
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCanceled
)

var statusNames = map[SendStatus]string{
	StatusUnknown:    "Unknown",
	StatusNotStarted: "NotStarted",
	StatusRunning:    "Running",
	StatusSucceeded:  "Succeeded",
	StatusFailed:     "Failed",
	StatusCanceled:   "Canceled",
}

// String returns the wire spelling of the status.
func (s SendStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether the status is absorbing: once reached, the
// operation never transitions again.
func (s SendStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// ParseSendStatus maps a wire status string to a SendStatus. The mapping is
// deliberately lenient: the service may introduce status values this client
// does not know yet, so unrecognized input yields StatusUnknown rather than
// an error.
func ParseSendStatus(value string) SendStatus {
	switch strings.TrimSpace(value) {
	case "NotStarted":
		return StatusNotStarted
	case "Running":
		return StatusRunning
	case "Succeeded":
		return StatusSucceeded
	case "Failed":
		return StatusFailed
	case "Canceled":
		return StatusCanceled
	default:
		return StatusUnknown
	}
}

// MarshalJSON serializes the status as its wire string.
func (s SendStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes a wire status string, mapping unrecognized
// values to StatusUnknown.
func (s *SendStatus) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = ParseSendStatus(value)
	return nil
}

// SendResponse is the acknowledgement returned by the submit call and by
// every status poll.
type SendResponse struct {
	ID     string       `json:"id"`
	Status SendStatus   `json:"status"`
	Error  *ErrorDetail `json:"error,omitempty"`
}
