package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestChatMessageMarshalWithImages(t *testing.T) {
	plain, err := json.Marshal(ChatMessage{Role: "user", Content: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(plain))

	withImage, err := json.Marshal(ChatMessage{Role: "user", Content: "look", Images: [][]byte{{1, 2, 3}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[
		{"type":"text","text":"look"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AQID"}}
	]}`, string(withImage))
}

func TestClientCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"t1","type":"function","function":{"name":"click","arguments":"{\"x\":1,\"y\":2}"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key", 5*time.Second)
	resp, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []ChatMessage{{Role: "user", Content: "go"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "click", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).CreateChatCompletion(context.Background(), &ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestMockClientSubmitsWhenOffered(t *testing.T) {
	m := NewMockClient()
	resp, err := m.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Tools: []Tool{{Type: "function", Function: ToolFunction{Name: "click"}}, {Type: "function", Function: ToolFunction{Name: "submit_findings"}}},
	})
	require.NoError(t, err)
	calls := resp.Choices[0].Message.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "submit_findings", calls[0].Function.Name)

	resp, err = m.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"findings": []}`, resp.Choices[0].Message.Content)
}

func TestToGenAIMapsRolesAndTools(t *testing.T) {
	temp := 0.2
	req := &ChatCompletionRequest{
		Temperature: &temp,
		Tools: []Tool{{Type: "function", Function: ToolFunction{
			Name: "click",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "number"}},
				"required":   []string{"x"},
			},
		}}},
		Messages: []ChatMessage{
			{Role: "system", Content: "be a tester"},
			{Role: "user", Content: "screen", Images: [][]byte{{9}}},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Type: "function", Function: ToolCallFunction{Name: "click", Arguments: `{"x":5}`}}}},
			{Role: "tool", ToolCallID: "c1", Content: "clicked"},
		},
	}

	contents, cfg, err := toGenAI(req)
	require.NoError(t, err)
	require.Len(t, contents, 3)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be a tester", cfg.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.NotNil(t, contents[0].Parts[1].InlineData)

	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, 5.0, contents[1].Parts[0].FunctionCall.Args["x"])

	assert.Equal(t, "click", contents[2].Parts[0].FunctionResponse.Name)

	require.Len(t, cfg.Tools, 1)
	decl := cfg.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, genai.TypeNumber, decl.Parameters.Properties["x"].Type)
	assert.Equal(t, []string{"x"}, decl.Parameters.Required)
}

func TestFromGenAIExtractsCalls(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "clicking checkout"},
			{FunctionCall: &genai.FunctionCall{Name: "click", Args: map[string]any{"x": 10.0, "y": 20.0}}},
		}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4, TotalTokenCount: 14},
	}

	out := fromGenAI("gemini-2.5-flash", resp)
	msg := out.Choices[0].Message
	assert.Equal(t, "clicking checkout", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.JSONEq(t, `{"x":10,"y":20}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", out.Choices[0].FinishReason)
	assert.Equal(t, 14, out.Usage.TotalTokens)
}
