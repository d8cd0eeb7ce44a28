package llm

import (
	"context"
	"encoding/json"
	"sync"
)

type fakeResponse struct {
	text string
	call ToolCall
	err  error
}

// fakeClient replays queued responses in order and records prompts.
type fakeClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	prompts   []string
	tools     [][]Tool
}

func (f *fakeClient) next(user string, tools []Tool) fakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, user)
	f.tools = append(f.tools, tools)
	if len(f.responses) == 0 {
		return fakeResponse{}
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r
}

func (f *fakeClient) Complete(_ context.Context, _, user string) (string, LLMUsage, error) {
	r := f.next(user, nil)
	return r.text, LLMUsage{InputTokens: 1, OutputTokens: 1}, r.err
}

func (f *fakeClient) SelectTool(_ context.Context, _, user string, tools []Tool) (ToolCall, LLMUsage, error) {
	r := f.next(user, tools)
	return r.call, LLMUsage{InputTokens: 1, OutputTokens: 1}, r.err
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func toolCall(name, sql, explanation string) ToolCall {
	input, _ := json.Marshal(map[string]string{"sql_query": sql, "explanation": explanation})
	return ToolCall{Name: name, Input: input}
}
