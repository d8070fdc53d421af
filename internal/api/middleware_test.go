package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/czcorpus/wag-sub001/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if seen == "" {
			t.Fatal("expected a request id in the context")
		}
		if got := w.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("X-Request-ID = %q, want %q", got, seen)
		}
	})

	t.Run("keeps the client id", func(t *testing.T) {
		h := RequestIDMiddleware()(okHandler())
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "client-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "client-42" {
			t.Errorf("X-Request-ID = %q, want client-42", got)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"any origin", nil, "https://wag.example", "*"},
		{"listed origin", []string{"https://wag.example"}, "https://wag.example", "https://wag.example"},
		{"unlisted origin", []string{"https://wag.example"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORSMiddleware(tt.origins)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
			if w.Code != http.StatusTeapot {
				t.Errorf("status = %d, the request must reach the handler", w.Code)
			}
		})
	}

	t.Run("preflight", func(t *testing.T) {
		h := CORSMiddleware(nil)(okHandler())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/search", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "INTERNAL_ERROR" {
		t.Errorf("resp.Code = %q, want INTERNAL_ERROR", resp.Code)
	}
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	var captured int
	inner := okHandler()
	h := LoggingMiddleware(logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		captured = w.(*responseWriter).statusCode
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured != http.StatusTeapot {
		t.Errorf("captured status = %d, want %d", captured, http.StatusTeapot)
	}
}
