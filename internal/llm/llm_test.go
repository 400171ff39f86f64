package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/bandscore/internal/model"
)

func TestFormatBand(t *testing.T) {
	tests := []struct {
		band float64
		want string
	}{
		{6.5, "6.5"},
		{7, "7.0"},
		{6.74, "6.5"},
		{6.75, "7.0"},
		{-1, "0.0"},
		{12, "9.0"},
	}
	for _, tt := range tests {
		if got := formatBand(tt.band); got != tt.want {
			t.Errorf("formatBand(%v) = %q, want %q", tt.band, got, tt.want)
		}
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.EvaluationResult
		wantErr bool
	}{
		{"number score", `{"score": 6.5, "evaluation_text": "Good."}`, model.EvaluationResult{Score: "6.5", EvaluationText: "Good."}, false},
		{"string score", `{"score": "7", "evaluation_text": " Clear. "}`, model.EvaluationResult{Score: "7.0", EvaluationText: "Clear."}, false},
		{"missing text", `{"score": 5}`, model.EvaluationResult{Score: "5.0", EvaluationText: "No evaluation text generated."}, false},
		{"missing score", `{"evaluation_text": "x"}`, model.EvaluationResult{}, true},
		{"word score", `{"score": "seven"}`, model.EvaluationResult{}, true},
		{"not json", `band 7`, model.EvaluationResult{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGrade(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseGrade() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseGrade() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewRejectsInvalidVariant(t *testing.T) {
	if _, err := New("", "key", "m", "harsh"); err == nil {
		t.Error("New() with invalid variant should fail")
	}
}

func fakeAPI(t *testing.T, content string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "grader" {
			t.Errorf("model = %q, want grader", req.Model)
		}
		if len(req.Messages) == 0 || !strings.Contains(req.Messages[0].Content, "Is tourism good?") {
			t.Error("system prompt should contain the question")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"grader","object":"model"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluate(t *testing.T) {
	srv := fakeAPI(t, `{"score": 6.8, "evaluation_text": "Well organised."}`)
	c, err := New(srv.URL+"/v1", "key", "grader", "standard")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	got, err := c.Evaluate(context.Background(), model.EvaluationRequest{Question: "Is tourism good?", Essay: "Yes it is."})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	want := model.EvaluationResult{Score: "7.0", EvaluationText: "Well organised."}
	if got != want {
		t.Errorf("Evaluate() = %+v, want %+v", got, want)
	}
}

func TestEvaluateBadResponse(t *testing.T) {
	srv := fakeAPI(t, `I think band 7`)
	c, err := New(srv.URL+"/v1", "key", "grader", "strict")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Evaluate(context.Background(), model.EvaluationRequest{Question: "Is tourism good?", Essay: "Yes."}); err == nil {
		t.Error("Evaluate() should fail on a non-JSON reply")
	}
}
