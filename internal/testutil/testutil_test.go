package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest("GET", "/api/readings")
	if req.Method != "GET" {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/readings" {
		t.Errorf("path = %s, want /api/readings", req.URL.Path)
	}
}

func TestNewJSONRequestBodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"struct", struct {
			Signal string `json:"signal"`
		}{"RPM"}, `{"signal":"RPM"}`},
		{"string", `{"payload":"0100"}`, `{"payload":"0100"}`},
		{"bytes", []byte("not json"), "not json"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewJSONRequest(t, http.MethodPost, "/api/command", tt.body)
			got, err := io.ReadAll(req.Body)
			AssertNoError(t, err)
			if string(got) != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
			if ct := req.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestServeAndDecode(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"units":"metric"}`)
	})
	rec := Serve(h, NewTestRequest(http.MethodGet, "/api/config"))
	AssertStatusCode(t, rec.Code, http.StatusAccepted)

	got := DecodeJSON[map[string]string](t, rec)
	if got["units"] != "metric" {
		t.Errorf("units = %q, want metric", got["units"])
	}
}
