package pgo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchBatch_Success(t *testing.T) {
	payload, err := EncodeBatchJSON(sampleBatch())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "application/json") {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	b, err := FetchBatch(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchBatch() error: %v", err)
	}
	if len(b.Constraints) != 3 {
		t.Errorf("constraints = %d, want 3", len(b.Constraints))
	}
}

func TestFetchBatch_EmptyURL(t *testing.T) {
	_, err := FetchBatch("")
	if err == nil || !strings.Contains(err.Error(), "URL is empty") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchBatch_RetriesTransientFailures(t *testing.T) {
	payload, _ := EncodeBatchCBOR(sampleBatch())
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	_, err := FetchBatch(srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("FetchBatch() error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchBatch_AllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := FetchBatch(srv.URL, WithHTTPClient(srv.Client()), WithMaxRetries(2), WithBaseBackoff(time.Millisecond))
	if err == nil || !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestFetchBatch_DecodeErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("garbage"))
	}))
	defer srv.Close()

	_, err := FetchBatch(srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Millisecond))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestFetchBatchWithContext_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchBatchWithContext(ctx, srv.URL, WithHTTPClient(srv.Client()), WithBaseBackoff(time.Hour))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
