package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// valid CIDv0 used across tests
const testHash = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func newAddServer(t *testing.T, hash string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/add" {
			http.NotFound(w, r)
			return
		}
		var req addRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"data":[{"hash":%q,"path":""}]}`, hash)
	}))
}

func TestPublish_ReturnsLocator(t *testing.T) {
	srv := newAddServer(t, testHash)
	defer srv.Close()

	locator, err := NewClient(srv.URL).Publish(context.Background(), "metaEvidence.json", []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if locator != "/ipfs/"+testHash {
		t.Fatalf("unexpected locator %q", locator)
	}
}

func TestPublish_StoreRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Publish(context.Background(), "evidence.json", []byte("x"))
	if !errors.Is(err, ErrStoreRejected) {
		t.Fatalf("expected ErrStoreRejected, got %v", err)
	}
}

func TestPublish_InvalidContentAddress(t *testing.T) {
	srv := newAddServer(t, "not-a-cid")
	defer srv.Close()

	_, err := NewClient(srv.URL).Publish(context.Background(), "evidence.json", []byte("x"))
	if !errors.Is(err, ErrStoreRejected) {
		t.Fatalf("expected ErrStoreRejected for invalid cid, got %v", err)
	}
}

func TestPublish_TransportFailure(t *testing.T) {
	srv := newAddServer(t, testHash)
	srv.Close() // nothing listening anymore

	_, err := NewClient(srv.URL).Publish(context.Background(), "evidence.json", []byte("x"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestPublish_CallerTimeoutIsTransport(t *testing.T) {
	srv := newAddServer(t, testHash)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).Publish(ctx, "evidence.json", []byte("x"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected cancelled context to surface as ErrTransport, got %v", err)
	}
}

func TestResolve_RoundTrip(t *testing.T) {
	payload := []byte("evidence payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ipfs/"+testHash {
			w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).Resolve(context.Background(), "/ipfs/"+testHash)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("resolved bytes differ: %q", got)
	}

	if _, err := NewClient(srv.URL).Resolve(context.Background(), "/ipfs/QmMissing"); !errors.Is(err, ErrStoreRejected) {
		t.Fatalf("expected ErrStoreRejected for unknown locator, got %v", err)
	}
}
