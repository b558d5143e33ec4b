package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "pushbridge/pkg/logx"
)

func token(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func TestSendSingleToken(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, logx.Nop())
	res, err := c.Send(context.Background(), Message{Title: "t", Body: "b", ItemID: "i1", Tokens: []string{token("ab")}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("Status = %d", res.Status)
	}
	// One token uses the singular field, not the batch array.
	if got["deviceToken"] != token("ab") {
		t.Fatalf("payload = %v", got)
	}
	if _, present := got["deviceTokens"]; present {
		t.Fatalf("payload must not mix single and batch fields: %v", got)
	}
	if got["itemId"] != "i1" {
		t.Fatalf("itemId = %v", got["itemId"])
	}
}

func TestSendBatchTokens(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, logx.Nop())
	if _, err := c.Send(context.Background(), Message{Title: "t", Tokens: []string{token("ab"), token("cd")}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	arr, ok := got["deviceTokens"].([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("payload = %v", got)
	}
}

func TestSendParsesInvalidTokensOnFailure(t *testing.T) {
	t.Parallel()
	bad := token("ef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"invalidTokens": []string{bad}})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, logx.Nop())
	res, err := c.Send(context.Background(), Message{Title: "t", Tokens: []string{token("ab")}})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	// Invalid tokens are meaningful even on failure responses.
	if len(res.InvalidTokens) != 1 || res.InvalidTokens[0] != bad {
		t.Fatalf("InvalidTokens = %v", res.InvalidTokens)
	}
}

func TestSendNoEndpoint(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	if _, err := c.Send(context.Background(), Message{Tokens: []string{token("ab")}}); err != ErrNoEndpoint {
		t.Fatalf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestParseInvalidTokensDefensive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty body", body: "", want: 0},
		{name: "not json", body: "<html>bad gateway</html>", want: 0},
		{name: "wrong shape", body: `{"invalidTokens": "oops"}`, want: 0},
		{name: "valid", body: `{"invalidTokens": ["a", "", "b"]}`, want: 2},
		{name: "null list", body: `{"invalidTokens": null}`, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := parseInvalidTokens(strings.NewReader(tt.body))
			if len(got) != tt.want {
				t.Fatalf("parseInvalidTokens(%q) = %v, want %d entries", tt.body, got, tt.want)
			}
		})
	}
}
