package httpsvc

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, handler http.HandlerFunc) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	return ln.Addr().String(), func() { srv.Close() }
}

func TestSessionDoSuccessfulQuery(t *testing.T) {
	addr, closeFn := startServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("expected an Authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","results":[{"x":1}],"errors":[]}`))
	})
	defer closeFn()

	s := New(Options{Address: addr, Username: "Administrator", Password: "password"})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, body, err := s.Do(ctx, "POST", "/query/service", "application/json", []byte(`{"statement":"select 1"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	env, err := ParseQueryEnvelope("query", body)
	if err != nil {
		t.Fatalf("ParseQueryEnvelope: %v", err)
	}
	if len(env.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(env.Results))
	}
}

func TestSessionDoQueryErrorMapsToKind(t *testing.T) {
	addr, closeFn := startServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fatal","results":[],"errors":[{"code":4100,"msg":"syntax error"}]}`))
	})
	defer closeFn()

	s := New(Options{Address: addr})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, body, err := s.Do(ctx, "POST", "/query/service", "application/json", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_, err = ParseQueryEnvelope("query", body)
	if err == nil {
		t.Fatalf("expected a parsed query error")
	}
}

func TestSessionDoStreamDeliversNDJSONRows(t *testing.T) {
	addr, closeFn := startServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for _, row := range []string{`{"id":"a"}`, `{"id":"b"}`, `{"meta":true}`} {
			w.Write([]byte(row + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	defer closeFn()

	s := New(Options{Address: addr})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var rows []string
	var sawFinal bool
	err := s.DoStream(ctx, "GET", "/_view", func(c Chunk) error {
		rows = append(rows, string(c.Data))
		if c.Final {
			sawFinal = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DoStream: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if !sawFinal {
		t.Fatalf("expected the last row to be marked Final")
	}
	if !strings.Contains(rows[2], "meta") {
		t.Fatalf("last row = %q", rows[2])
	}
}

func TestParseManagementErrorExtractsFirstMessage(t *testing.T) {
	err := ParseManagementError(400, []byte(`{"errors":["bucket name already exists"]}`))
	if err == nil {
		t.Fatalf("expected an error for a 400 status")
	}
}

func TestParseManagementErrorIgnoresSuccess(t *testing.T) {
	if err := ParseManagementError(200, []byte(`{}`)); err != nil {
		t.Fatalf("expected no error for a 200 status, got %v", err)
	}
}
