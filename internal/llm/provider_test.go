package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"qwen2.5:7b"}]}`)
		case "/api/chat":
			json.NewDecoder(r.Body).Decode(&body)
			fmt.Fprint(w, `{"message":{"content":"{\"risk_level\":\"low\"}"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL)
	if !p.IsConfigured() {
		t.Fatal("expected provider to find the model")
	}

	out, err := p.Generate(context.Background(), "analyze", 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"risk_level":"low"}` {
		t.Errorf("unexpected output %q", out)
	}
	if body["format"] != "json" {
		t.Errorf("expected JSON format request, got %v", body["format"])
	}
}

func TestOllamaMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	if NewOllamaProvider("qwen2.5:7b", srv.URL).IsConfigured() {
		t.Error("expected missing model to be unconfigured")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{}"}}]}`)
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: srv.URL, client: srv.Client()}
	out, err := p.Generate(context.Background(), "analyze", 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "{}" {
		t.Errorf("unexpected output %q", out)
	}

	p.APIKey = "wrong"
	if _, err := p.Generate(context.Background(), "analyze", 256); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}
