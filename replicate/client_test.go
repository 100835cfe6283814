package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseOutputShapes(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "bare string", raw: `"https://cdn.example/a.webp"`, want: []string{"https://cdn.example/a.webp"}},
		{name: "string list", raw: `["https://cdn.example/a.webp","https://cdn.example/b.webp"]`, want: []string{"https://cdn.example/a.webp", "https://cdn.example/b.webp"}},
		{name: "url object", raw: `{"url":"https://cdn.example/a.mp4"}`, want: []string{"https://cdn.example/a.mp4"}},
		{name: "object list", raw: `[{"url":"https://cdn.example/a.webp"}]`, want: []string{"https://cdn.example/a.webp"}},
		{name: "null output", raw: `null`, wantErr: true},
		{name: "empty list", raw: `[]`, wantErr: true},
		{name: "numeric output", raw: `42`, wantErr: true},
		{name: "object without url", raw: `{"path":"/tmp/a.webp"}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ParseOutput(json.RawMessage(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseOutput(%s) expected error, got %v", tc.raw, out.URLs)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutput(%s) returned error: %v", tc.raw, err)
			}
			if len(out.URLs) != len(tc.want) {
				t.Fatalf("ParseOutput(%s) = %v, want %v", tc.raw, out.URLs, tc.want)
			}
			for i := range tc.want {
				if out.URLs[i] != tc.want[i] {
					t.Fatalf("ParseOutput(%s)[%d] = %q, want %q", tc.raw, i, out.URLs[i], tc.want[i])
				}
			}
		})
	}
}

func TestRunModelEndpoint(t *testing.T) {
	var gotPath, gotAuth, gotPrefer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotPrefer = r.Header.Get("Prefer")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pred-1",
			"status": "succeeded",
			"output": "https://cdn.example/a.webp",
		})
	}))
	defer server.Close()

	client, err := NewClient("r8_test_token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	out, err := client.Run(context.Background(), "qwen/qwen-image", map[string]any{"prompt": "a castle"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	url, err := out.FirstURL()
	if err != nil || url != "https://cdn.example/a.webp" {
		t.Fatalf("FirstURL = %q, %v", url, err)
	}
	if gotPath != "/models/qwen/qwen-image/predictions" {
		t.Fatalf("request path = %q", gotPath)
	}
	if gotAuth != "Bearer r8_test_token" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotPrefer != "wait=60" {
		t.Fatalf("prefer header = %q", gotPrefer)
	}
}

func TestRunVersionPinnedEndpoint(t *testing.T) {
	var gotPath string
	var gotBody predictionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pred-2",
			"status": "succeeded",
			"output": []string{"https://cdn.example/b.webp"},
		})
	}))
	defer server.Close()

	client, err := NewClient("r8_test_token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.Run(context.Background(), "asiryan/mistoon-anime-xl:06285a50", map[string]any{"prompt": "x"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if gotPath != "/predictions" {
		t.Fatalf("request path = %q", gotPath)
	}
	if gotBody.Version != "06285a50" {
		t.Fatalf("request version = %q", gotBody.Version)
	}
}

func TestRunPollsUntilTerminal(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/models/bytedance/seedance-1-pro/predictions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pred-3",
			"status": "processing",
			"urls":   map[string]string{"get": server.URL + "/predictions/pred-3"},
		})
	})
	mux.HandleFunc("/predictions/pred-3", func(w http.ResponseWriter, r *http.Request) {
		polls++
		w.Header().Set("Content-Type", "application/json")
		status := "processing"
		var output any
		if polls >= 2 {
			status = "succeeded"
			output = map[string]string{"url": "https://cdn.example/clip.mp4"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pred-3", "status": status, "output": output})
	})

	client, err := NewClient("r8_test_token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	out, err := client.Run(context.Background(), "bytedance/seedance-1-pro", map[string]any{"prompt": "pan"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if url, _ := out.FirstURL(); url != "https://cdn.example/clip.mp4" {
		t.Fatalf("FirstURL = %q", url)
	}
	if polls < 2 {
		t.Fatalf("expected at least 2 polls, got %d", polls)
	}
}

func TestRunFailedPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pred-4",
			"status": "failed",
			"error":  "NSFW content detected",
		})
	}))
	defer server.Close()

	client, err := NewClient("r8_test_token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.Run(context.Background(), "qwen/qwen-image", map[string]any{"prompt": "x"}); err == nil {
		t.Fatal("Run expected error for failed prediction")
	}
}

func TestRunAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient("r8_bad_token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.Run(context.Background(), "qwen/qwen-image", map[string]any{"prompt": "x"}); err != ErrAuthFailed {
		t.Fatalf("Run error = %v, want ErrAuthFailed", err)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("   "); err == nil {
		t.Fatal("NewClient expected error for blank token")
	}
}
