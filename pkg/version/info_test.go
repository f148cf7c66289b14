package version

import (
	"testing"
	"time"
)

func TestCurrent_Defaults(t *testing.T) {
	info := Current("acsmail")
	if info.Service != "acsmail" {
		t.Fatalf("unexpected service: %q", info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("unexpected version: %q", info.Version)
	}
	if info.Commit != Unknown || info.BuildTime != Unknown {
		t.Fatalf("unexpected build metadata: %+v", info)
	}
}

func TestCurrent_BlankServiceName(t *testing.T) {
	info := Current("   ")
	if info.Service != Unknown {
		t.Fatalf("expected %q, got %q", Unknown, info.Service)
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	info := Info{BuildTime: "2026-08-01T12:00:00Z"}
	ts, ok := info.ParseBuildTime()
	if !ok {
		t.Fatal("expected parseable build time")
	}
	if ts.UTC() != time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected time: %v", ts)
	}

	if _, ok := (Info{BuildTime: Unknown}).ParseBuildTime(); ok {
		t.Fatal("expected unknown build time to be unparseable")
	}
	if _, ok := (Info{BuildTime: "yesterday"}).ParseBuildTime(); ok {
		t.Fatal("expected malformed build time to be unparseable")
	}
}

func TestInfo_UserAgent(t *testing.T) {
	info := Info{Service: "acsmail", Version: "v0.3.1"}
	if got := info.UserAgent(); got != "acsmail/v0.3.1" {
		t.Fatalf("unexpected user agent: %q", got)
	}
}
