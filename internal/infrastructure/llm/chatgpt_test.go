package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BdLens/internal/config"
	"BdLens/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, answer string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(endpoint string) *ChatGPTClient {
	return NewChatGPTClient(config.LLMConfig{Endpoint: endpoint, Model: "test-model", APIKey: "test-key"})
}

func TestSummarize(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, "  Road closures in Gulshan.  ", &seen)

	summary, err := newClient(srv.URL).Summarize(context.Background(), strings.Repeat("ক", 5000))
	require.NoError(t, err)
	assert.Equal(t, "Road closures in Gulshan.", summary)

	assert.Equal(t, "test-model", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Contains(t, seen.Messages[1].Content, "2-3 clear sentences")
	assert.Equal(t, longInputRunes, strings.Count(seen.Messages[1].Content, "ক"))
}

func TestClassifyTagsFenced(t *testing.T) {
	srv := chatServer(t, "```json\n[\"housing\", \" budget \", \"\"]\n```", nil)

	tags, err := newClient(srv.URL).ClassifyTags(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"housing", "budget"}, tags)
}

func TestExtractEntities(t *testing.T) {
	srv := chatServer(t, "```\n[{\"name\":\"DNCC\",\"type\":\"organization\"},{\"name\":\"Mirpur\",\"type\":\"location\"}]\n```", nil)

	entities, err := newClient(srv.URL).ExtractEntities(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityMention{
		{Name: "DNCC", Type: "organization"},
		{Name: "Mirpur", Type: "location"},
	}, entities)
}

func TestMalformedJSONIsError(t *testing.T) {
	srv := chatServer(t, "I think the tags are housing and health.", nil)

	_, err := newClient(srv.URL).ClassifyTags(context.Background(), "text")
	assert.Error(t, err)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := newClient(srv.URL).Explain(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestMisconfigured(t *testing.T) {
	_, err := NewChatGPTClient(config.LLMConfig{Endpoint: "http://x", Model: "m"}).Summarize(context.Background(), "t")
	assert.ErrorContains(t, err, "misconfigured")
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `["a"]`, extractJSON(`["a"]`))
	assert.Equal(t, `["a"]`, extractJSON("Sure:\n```json\n[\"a\"]\n```\nDone"))
	assert.Equal(t, `["a"]`, extractJSON("```\n[\"a\"]\n```"))
}
