package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := cors([]string{"http://allowed.local"}, next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "http://allowed.local", wantStatus: http.StatusTeapot, wantAllow: "http://allowed.local"},
		{name: "unknown origin", method: http.MethodGet, origin: "http://evil.local", wantStatus: http.StatusTeapot},
		{name: "preflight", method: http.MethodOptions, origin: "http://allowed.local", wantStatus: http.StatusNoContent, wantAllow: "http://allowed.local"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tc.method, "/games/g1", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tc.wantAllow)
			}
		})
	}
}
