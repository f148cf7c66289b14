// Package testutil provides in-process test doubles for the two service
// surfaces the client talks to: the email endpoint and the identity token
// endpoint. The fakes verify inbound credentials the way the real services
// do, so tests built on them exercise the full signing path.
package testutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nimburion/acsmail/pkg/email"
)

const signaturePrefix = "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature="

// FakeEmailServer is a stand-in for the Communication Services email
// endpoint. It accepts send submissions, walks each resulting operation
// through a scripted status sequence, and rejects requests whose
// authentication does not verify.
type FakeEmailServer struct {
	server       *httptest.Server
	accessKey    string
	key          []byte
	verifyBearer func(token string) bool
	script       []email.SendStatus
	failDetail   *email.ErrorDetail

	mu        sync.Mutex
	ops       map[string]*scriptedOperation
	nextID    int
	sendCount int
	pollCount int
}

type scriptedOperation struct {
	script []email.SendStatus
	polls  int
}

// FakeEmailServerOption customizes a FakeEmailServer.
type FakeEmailServerOption func(*FakeEmailServer)

// WithSharedKey makes the server verify inbound request signatures against
// the given base64-encoded access key, as the real endpoint does.
func WithSharedKey(accessKey string) FakeEmailServerOption {
	return func(f *FakeEmailServer) {
		f.accessKey = accessKey
	}
}

// WithBearerVerifier makes the server require a bearer token and validate it
// with the given function.
func WithBearerVerifier(verify func(token string) bool) FakeEmailServerOption {
	return func(f *FakeEmailServer) {
		f.verifyBearer = verify
	}
}

// WithStatusScript sets the status sequence every accepted operation walks
// through, one entry per poll. The final entry repeats once the script is
// exhausted. The default script is a single Succeeded.
func WithStatusScript(statuses ...email.SendStatus) FakeEmailServerOption {
	return func(f *FakeEmailServer) {
		f.script = statuses
	}
}

// WithFailureDetail attaches an error payload to terminal Failed and
// Canceled poll responses.
func WithFailureDetail(detail *email.ErrorDetail) FakeEmailServerOption {
	return func(f *FakeEmailServer) {
		f.failDetail = detail
	}
}

// NewFakeEmailServer starts a fake email endpoint. The server is closed
// automatically when the test finishes.
func NewFakeEmailServer(t *testing.T, opts ...FakeEmailServerOption) *FakeEmailServer {
	t.Helper()

	f := &FakeEmailServer{ops: make(map[string]*scriptedOperation)}
	for _, opt := range opts {
		opt(f)
	}
	if f.accessKey != "" {
		key, err := base64.StdEncoding.DecodeString(f.accessKey)
		if err != nil {
			t.Fatalf("decode access key: %v", err)
		}
		f.key = key
	}
	if len(f.script) == 0 {
		f.script = []email.SendStatus{email.StatusSucceeded}
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server's base URL, usable as a client endpoint.
func (f *FakeEmailServer) URL() string {
	return f.server.URL
}

// ConnectionString returns a connection string for the server. Only
// meaningful when the server was configured with WithSharedKey.
func (f *FakeEmailServer) ConnectionString() string {
	return "endpoint=" + f.server.URL + ";accesskey=" + f.accessKey
}

// SendCount returns the number of accepted send submissions.
func (f *FakeEmailServer) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

// PollCount returns the number of status polls served.
func (f *FakeEmailServer) PollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func (f *FakeEmailServer) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}
	if !f.authorize(r, body) {
		writeServiceError(w, http.StatusUnauthorized, "Denied", "request authentication failed")
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/emails:send":
		f.handleSend(w, r, body)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/emails/operations/"):
		f.handlePoll(w, r)
	default:
		writeServiceError(w, http.StatusNotFound, "NotFound", "no such resource")
	}
}

func (f *FakeEmailServer) handleSend(w http.ResponseWriter, r *http.Request, body []byte) {
	var msg email.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeServiceError(w, http.StatusBadRequest, "InvalidRequest", "malformed send payload")
		return
	}
	if msg.SenderAddress == "" {
		writeServiceError(w, http.StatusBadRequest, "InvalidSender", "senderAddress is required")
		return
	}

	f.mu.Lock()
	f.sendCount++
	f.nextID++
	id := fmt.Sprintf("op-%d", f.nextID)
	f.ops[id] = &scriptedOperation{script: f.script}
	f.mu.Unlock()

	location := f.server.URL + "/emails/operations/" + id
	if v := r.URL.Query().Get("api-version"); v != "" {
		location += "?api-version=" + v
	}
	w.Header().Set("Operation-Location", location)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(email.SendResponse{ID: id, Status: email.StatusNotStarted})
}

func (f *FakeEmailServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/emails/operations/")

	f.mu.Lock()
	op, ok := f.ops[id]
	if !ok {
		f.mu.Unlock()
		writeServiceError(w, http.StatusNotFound, "OperationNotFound", "unknown operation "+id)
		return
	}
	f.pollCount++
	idx := op.polls
	if idx >= len(op.script) {
		idx = len(op.script) - 1
	}
	op.polls++
	status := op.script[idx]
	detail := f.failDetail
	f.mu.Unlock()

	report := email.SendResponse{ID: id, Status: status}
	if status == email.StatusFailed || status == email.StatusCanceled {
		report.Error = detail
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (f *FakeEmailServer) authorize(r *http.Request, body []byte) bool {
	switch {
	case f.key != nil:
		return f.verifySharedKey(r, body)
	case f.verifyBearer != nil:
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		return found && f.verifyBearer(token)
	default:
		return true
	}
}

// verifySharedKey recomputes the expected signature from the request as
// received and compares it against the Authorization header.
func (f *FakeEmailServer) verifySharedKey(r *http.Request, body []byte) bool {
	date := r.Header.Get("x-ms-date")
	contentHash := r.Header.Get("x-ms-content-sha256")
	authorization := r.Header.Get("Authorization")
	if date == "" || contentHash == "" || !strings.HasPrefix(authorization, signaturePrefix) {
		return false
	}

	digest := sha256.Sum256(body)
	if contentHash != base64.StdEncoding.EncodeToString(digest[:]) {
		return false
	}

	stringToSign := r.Method + "\n" + r.URL.RequestURI() + "\n" + date + ";" + r.Host + ";" + contentHash
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(stringToSign))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	received := strings.TrimPrefix(authorization, signaturePrefix)
	return hmac.Equal([]byte(received), []byte(expected))
}

func writeServiceError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(email.ErrorResponse{
		Error: &email.ErrorDetail{Code: code, Message: message},
	})
}
