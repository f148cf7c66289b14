package client

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/acsmail/pkg/auth"
	"github.com/nimburion/acsmail/pkg/email"
	"github.com/nimburion/acsmail/pkg/observability/logger"
)

func testSharedCredential(t *testing.T) *auth.SharedKeyCredential {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cred, err := auth.NewSharedKeyCredential(key)
	if err != nil {
		t.Fatalf("new credential: %v", err)
	}
	return cred
}

func testMessage(t *testing.T) *email.Message {
	t.Helper()
	msg, err := email.NewMessage(
		"sender@contoso.com",
		email.Recipients{To: []email.Address{{Address: "user@example.com", DisplayName: "User"}}},
		email.Content{Subject: "Greetings", PlainText: "Hello from the test suite"},
	)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return msg
}

// fakeEmailService scripts the submit ack and one poll status per request;
// the last scripted status repeats once the script is exhausted.
type fakeEmailService struct {
	t *testing.T

	ackStatus  string
	statuses   []string
	failDetail *email.ErrorDetail

	mu          sync.Mutex
	sendCount   int
	pollCount   int
	sendBody    []byte
	sendHeaders http.Header
	sendQuery   string
	pollTimes   []time.Time
}

func (f *fakeEmailService) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/emails:send":
			body, err := io.ReadAll(r.Body)
			if err != nil {
				f.t.Errorf("read send body: %v", err)
			}
			f.mu.Lock()
			f.sendCount++
			f.sendBody = body
			f.sendHeaders = r.Header.Clone()
			f.sendQuery = r.URL.RawQuery
			f.mu.Unlock()

			ack := f.ackStatus
			if ack == "" {
				ack = "NotStarted"
			}
			w.Header().Set("Operation-Location",
				"http://"+r.Host+"/emails/operations/op-1?api-version="+r.URL.Query().Get("api-version"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"id": "op-1", "status": ack})

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/emails/operations/"):
			f.mu.Lock()
			f.pollCount++
			f.pollTimes = append(f.pollTimes, time.Now())
			idx := f.pollCount - 1
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			status := "Running"
			if idx >= 0 {
				status = f.statuses[idx]
			}
			f.mu.Unlock()

			report := email.SendResponse{ID: "op-1", Status: email.ParseSendStatus(status)}
			if status == "Failed" || status == "Canceled" {
				report.Error = f.failDetail
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(report)

		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeEmailService) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

func (f *fakeEmailService) captured() (body []byte, headers http.Header, query string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendBody, f.sendHeaders, f.sendQuery
}

func (f *fakeEmailService) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func fastPoll() PollConfig {
	return PollConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Timeout:         5 * time.Second,
	}
}

func newTestClient(t *testing.T, endpoint string, poll PollConfig) *Client {
	t.Helper()
	cli, err := New(Config{
		Endpoint:   endpoint,
		Credential: testSharedCredential(t),
		Poll:       poll,
	}, logger.NewNoop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return cli
}

func TestNew_Validation(t *testing.T) {
	cred := testSharedCredential(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing endpoint", Config{Credential: cred}},
		{"missing credential", Config{Endpoint: "https://contoso.communication.azure.com"}},
		{"unsupported scheme", Config{Endpoint: "ftp://contoso.communication.azure.com", Credential: cred}},
		{"missing host", Config{Endpoint: "https://", Credential: cred}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, logger.NewNoop()); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestNewFromConnectionString(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cli, err := NewFromConnectionString("endpoint=https://contoso.communication.azure.com/;accesskey="+key, logger.NewNoop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if cli.cfg.Endpoint != "https://contoso.communication.azure.com" {
		t.Fatalf("unexpected endpoint: %q", cli.cfg.Endpoint)
	}
	if cli.cfg.APIVersion != DefaultAPIVersion {
		t.Fatalf("unexpected api version: %q", cli.cfg.APIVersion)
	}
}

func TestSend_ValidatesBeforeDispatch(t *testing.T) {
	fake := &fakeEmailService{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	invalid := &email.Message{
		SenderAddress: "sender@contoso.com",
		Recipients:    email.Recipients{To: []email.Address{{Address: "user@example.com"}}},
		// No subject and no body.
	}
	if _, err := cli.Send(context.Background(), invalid); err == nil {
		t.Fatal("expected validation error")
	}
	if fake.sends() != 0 {
		t.Fatalf("invalid message must not reach the wire, saw %d requests", fake.sends())
	}
}

func TestSend_SubmitsSignedWireRequest(t *testing.T) {
	fake := &fakeEmailService{t: t, statuses: []string{"Succeeded"}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	result, err := cli.Send(context.Background(), testMessage(t))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.OperationID() != "op-1" {
		t.Fatalf("unexpected operation id: %q", result.OperationID())
	}
	if result.RequestID() == "" {
		t.Fatal("expected a request id")
	}

	report, err := result.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if report.Status != email.StatusSucceeded {
		t.Fatalf("unexpected final status: %s", report.Status)
	}

	sendBody, headers, sendQuery := fake.captured()
	if sendQuery != "api-version="+DefaultAPIVersion {
		t.Fatalf("unexpected query: %q", sendQuery)
	}
	if got := headers.Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := headers.Get("User-Agent"); !strings.HasPrefix(got, "acsmail/") {
		t.Fatalf("unexpected user agent: %q", got)
	}
	if headers.Get("x-ms-client-request-id") != result.RequestID() {
		t.Fatalf("request id header %q does not match result %q", headers.Get("x-ms-client-request-id"), result.RequestID())
	}
	if headers.Get(auth.HeaderDate) == "" {
		t.Fatal("expected signed date header")
	}
	digest := sha256.Sum256(sendBody)
	if got := headers.Get(auth.HeaderContentHash); got != base64.StdEncoding.EncodeToString(digest[:]) {
		t.Fatalf("content hash %q does not match body", got)
	}
	if got := headers.Get("Authorization"); !strings.HasPrefix(got, "HMAC-SHA256 SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=") {
		t.Fatalf("unexpected authorization header: %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(sendBody, &payload); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if payload["senderAddress"] != "sender@contoso.com" {
		t.Fatalf("unexpected sender: %v", payload["senderAddress"])
	}
	content, ok := payload["content"].(map[string]any)
	if !ok || content["subject"] != "Greetings" {
		t.Fatalf("unexpected content: %v", payload["content"])
	}
	recipients, ok := payload["recipients"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected recipients: %v", payload["recipients"])
	}
	to, ok := recipients["to"].([]any)
	if !ok || len(to) != 1 {
		t.Fatalf("unexpected to list: %v", recipients["to"])
	}
	if first, ok := to[0].(map[string]any); !ok || first["address"] != "user@example.com" {
		t.Fatalf("unexpected first recipient: %v", to[0])
	}
}

func TestSend_RemoteRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"InvalidSenderDomain","message":"The sender domain is not linked","target":"senderAddress"}}`))
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	_, err := cli.Send(context.Background(), testMessage(t))
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remoteErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", remoteErr.StatusCode)
	}
	if remoteErr.Detail == nil || remoteErr.Detail.Code != "InvalidSenderDomain" {
		t.Fatalf("unexpected detail: %+v", remoteErr.Detail)
	}
	if !strings.Contains(remoteErr.Error(), "InvalidSenderDomain") {
		t.Fatalf("expected code in message, got %q", remoteErr.Error())
	}
}

func TestSend_RemoteRejectionWithoutDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	_, err := cli.Send(context.Background(), testMessage(t))
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Detail != nil {
		t.Fatalf("expected no structured detail, got %+v", remoteErr.Detail)
	}
	if !strings.Contains(remoteErr.Error(), "upstream unavailable") {
		t.Fatalf("expected raw body in message, got %q", remoteErr.Error())
	}
}

func TestSend_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	cli := newTestClient(t, endpoint, fastPoll())
	_, err := cli.Send(context.Background(), testMessage(t))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if transportErr.Op != "send" {
		t.Fatalf("unexpected op: %q", transportErr.Op)
	}
}

func TestSend_MalformedAck(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "accepted"},
		{"missing operation id", `{"status":"Running"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cli := newTestClient(t, server.URL, fastPoll())
			_, err := cli.Send(context.Background(), testMessage(t))
			var transportErr *TransportError
			if !errors.As(err, &transportErr) {
				t.Fatalf("expected TransportError, got %T: %v", err, err)
			}
		})
	}
}

func TestSend_RateLimitedSubmission(t *testing.T) {
	fake := &fakeEmailService{t: t, statuses: []string{"Succeeded"}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	cli, err := New(Config{
		Endpoint:          server.URL,
		Credential:        testSharedCredential(t),
		Poll:              fastPoll(),
		RequestsPerSecond: 0.5,
		RequestBurst:      1,
	}, logger.NewNoop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := cli.Send(context.Background(), testMessage(t))
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := result.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	// The burst is spent; the next permit is ~2s away, beyond this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := cli.Send(ctx, testMessage(t)); err == nil {
		t.Fatal("expected the limiter to reject the second submission")
	}
	if fake.sends() != 1 {
		t.Fatalf("expected one dispatched request, got %d", fake.sends())
	}
}

func TestGetSendStatus(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.Header.Get("Authorization") == "" {
			t.Error("expected the status request to be signed")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"op-9","status":"Running"}`))
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	report, err := cli.GetSendStatus(context.Background(), "op-9")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if report.Status != email.StatusRunning {
		t.Fatalf("unexpected status: %s", report.Status)
	}
	if gotPath != "/emails/operations/op-9" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotQuery != "api-version="+DefaultAPIVersion {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
}

func TestGetSendStatus_Validation(t *testing.T) {
	cli := newTestClient(t, "https://contoso.communication.azure.com", fastPoll())
	if _, err := cli.GetSendStatus(context.Background(), "  "); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetSendStatus_RemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"OperationNotFound","message":"No such operation"}}`))
	}))
	defer server.Close()

	cli := newTestClient(t, server.URL, fastPoll())
	_, err := cli.GetSendStatus(context.Background(), "op-gone")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remoteErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", remoteErr.StatusCode)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "7", 7 * time.Second},
		{"zero seconds", "0", 0},
		{"negative", "-3", 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value); got != tt.want {
				t.Fatalf("parseRetryAfter(%q) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	at := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(at)
	if got <= 0 || got > 3*time.Second {
		t.Fatalf("parseRetryAfter(%q) = %s, want a positive duration up to 3s", at, got)
	}
}
