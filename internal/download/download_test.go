package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/hash"
	"github.com/a-h/leaf/internal/runstate"
)

func TestDownloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive bytes"))
	}))
	defer server.Close()

	var got []byte
	sink := func(chunk []byte) bool {
		got = append(got, chunk...)
		return true
	}

	status, err := Download(context.Background(), server.URL, "fetching", nil, sink)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if string(got) != "archive bytes" {
		t.Errorf("sink received %q, want %q", got, "archive bytes")
	}
}

func TestDownloadZeroByteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	var got []byte
	sink := func(chunk []byte) bool {
		got = append(got, chunk...)
		return true
	}

	if _, err := Download(context.Background(), server.URL, "fetching", nil, sink); err != nil {
		t.Fatal(err)
	}
	if hash.Bytes(got) != hash.Bytes(nil) {
		t.Errorf("expected a 0-byte response to hash the same as an empty byte slice")
	}
}

func TestDownloadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sink := func(chunk []byte) bool { return true }
	if _, err := Download(context.Background(), server.URL, "fetching", nil, sink); err == nil {
		t.Error("expected an error for a 404 response")
	} else if err.(*errs.Error).Kind != errs.KindHTTPNot2xx {
		t.Errorf("Kind = %v, want KindHTTPNot2xx", err.(*errs.Error).Kind)
	}
}

func TestDownloadSinkAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("more bytes than the sink will accept"))
	}))
	defer server.Close()

	sink := func(chunk []byte) bool { return false }
	if _, err := Download(context.Background(), server.URL, "fetching", nil, sink); err == nil {
		t.Error("expected an error when the sink signals abort")
	}
}

func TestDownloadCooperativeCancellation(t *testing.T) {
	runstate.Stop()
	defer runstate.Reset()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	sink := func(chunk []byte) bool { return true }
	_, err := Download(context.Background(), server.URL, "fetching", nil, sink)
	if err == nil || err.(*errs.Error).Kind != errs.KindAbort {
		t.Errorf("expected KindAbort once runstate is stopped, got %v", err)
	}
}
