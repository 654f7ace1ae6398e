package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/testutil"
)

// fakeProvider serves an OpenAI-compatible chat completions endpoint.
type fakeProvider struct {
	server *httptest.Server
	reply  func(req openai.ChatCompletionRequest) (int, string)

	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
}

func newFakeProvider(t *testing.T, reply func(req openai.ChatCompletionRequest) (int, string)) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{reply: reply}
	fp.server = httptest.NewServer(http.HandlerFunc(fp.handle))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fp.mu.Lock()
	fp.requests = append(fp.requests, req)
	fp.mu.Unlock()

	status, content := fp.reply(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = w.Write([]byte(`{"error":{"message":"` + content + `","type":"error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:     "cmpl-1",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

func (fp *fakeProvider) Requests() []openai.ChatCompletionRequest {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), fp.requests...)
}

func (fp *fakeProvider) llm(t *testing.T, chunkSize int) *LLM {
	t.Helper()
	l, err := NewLLM(LLMConfig{
		Name:      "groq",
		Provider:  "groq",
		BaseURL:   fp.server.URL + "/v1/",
		Model:     "llama-test",
		APIKey:    "sk-test",
		MaxTokens: 512,
		ChunkSize: chunkSize,
	})
	require.NoError(t, err)
	return l
}

func respond(content string) func(openai.ChatCompletionRequest) (int, string) {
	return func(openai.ChatCompletionRequest) (int, string) { return http.StatusOK, content }
}

func mustPrompts(t *testing.T) *Prompts {
	t.Helper()
	p, err := LoadPrompts()
	require.NoError(t, err)
	return p
}

func TestNewLLM(t *testing.T) {
	l, err := NewLLM(LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", l.Name())
	assert.Equal(t, "gemini-2.0-flash", l.Model())
	assert.True(t, l.Configured())

	l, err = NewLLM(LLMConfig{Name: "groq", Provider: "groq", Model: "m"})
	require.NoError(t, err)
	assert.False(t, l.Configured())

	_, err = NewLLM(LLMConfig{Provider: "acme", Model: "m"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = NewLLM(LLMConfig{Provider: "openai"})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestLLMAnalyzer_Analyze(t *testing.T) {
	fp := newFakeProvider(t, respond("```json\n"+`{"summary":"One query is built by hand.","issues":[`+
		`{"type":"SQL Injection","severity":"HIGH","file":"app/billing.py","line":"Line 3","description":"concatenated query"},`+
		`{"type":"Hardcoded Secret","severity":"critical","file":"app/billing.py","line":2,"description":"dup of static"}`+
		`]}`+"\n```"))

	a := NewLLMAnalyzer(fp.llm(t, 0), core.StageSecurity, mustPrompts(t), NewStaticSecurity())
	assert.Equal(t, "groq", a.Name())
	assert.True(t, a.Configured())

	res, err := a.Analyze(context.Background(), testutil.SampleDiff)
	require.NoError(t, err)

	assert.Equal(t, core.ResultFailed, res.Status)
	assert.Equal(t, "One query is built by hand.", res.Summary)
	require.Equal(t, 2, res.TotalIssues, "model findings that repeat the static pre-pass are merged")
	assert.Equal(t, "Hardcoded Secret", res.Issues[0].Type)
	assert.Equal(t, "SQL Injection", res.Issues[1].Type)
	assert.Equal(t, core.SeverityHigh, res.Issues[1].Severity)
	assert.Equal(t, 3, res.Issues[1].Line)

	reqs := fp.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "llama-test", reqs[0].Model)
	assert.Equal(t, 512, reqs[0].MaxTokens)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[1].Content, "Hardcoded Secret at app/billing.py:2: Password")
	assert.Contains(t, reqs[0].Messages[1].Content, "Files: app/billing.py")
}

func TestLLMAnalyzer_Chunks(t *testing.T) {
	var diff strings.Builder
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		diff.WriteString("diff --git a/" + name + " b/" + name + "\n--- a/" + name + "\n+++ b/" + name + "\n")
		diff.WriteString("@@ -1,1 +1,2 @@\n x = 1\n+y = x * 2 + some_long_function_name(argument_one, argument_two)\n")
	}

	var mu sync.Mutex
	n := 0
	fp := newFakeProvider(t, func(openai.ChatCompletionRequest) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 2 {
			return http.StatusOK, `{"summary":"part two","issues":[{"type":"Bug","severity":"low","description":"d"}]}`
		}
		return http.StatusOK, `{"summary":"","issues":[]}`
	})

	a := NewLLMAnalyzer(fp.llm(t, 160), core.StageRuntime, mustPrompts(t), nil)
	res, err := a.Analyze(context.Background(), diff.String())
	require.NoError(t, err)

	reqs := fp.Requests()
	require.Greater(t, len(reqs), 1)
	assert.Contains(t, reqs[0].Messages[1].Content, "(part 1 of")
	assert.Equal(t, core.ResultWarning, res.Status)
	assert.Equal(t, "part two", res.Summary)
	assert.Equal(t, 1, res.TotalIssues)
}

func TestLLMAnalyzer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		cat    core.ErrorCategory
	}{
		{"malformed json", http.StatusOK, "I found nothing wrong.", core.ErrCatSchema},
		{"empty content", http.StatusOK, "   ", core.ErrCatSchema},
		{"rate limited", http.StatusTooManyRequests, "slow down", core.ErrCatRateLimit},
		{"unauthorized", http.StatusUnauthorized, "bad key", core.ErrCatAuth},
		{"forbidden", http.StatusForbidden, "no access", core.ErrCatAuth},
		{"server error", http.StatusInternalServerError, "boom", core.ErrCatExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t, func(openai.ChatCompletionRequest) (int, string) { return tt.status, tt.body })
			a := NewLLMAnalyzer(fp.llm(t, 0), core.StageRuntime, mustPrompts(t), nil)
			_, err := a.Analyze(context.Background(), "x = 1")
			require.Error(t, err)
			assert.Equal(t, tt.cat, core.GetCategory(err))
		})
	}
}

func TestLLMAnalyzer_ContextErrorsPassThrough(t *testing.T) {
	fp := newFakeProvider(t, respond(`{"summary":"","issues":[]}`))
	a := NewLLMAnalyzer(fp.llm(t, 0), core.StageRuntime, mustPrompts(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Analyze(ctx, "x = 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLLMSynthesizer_Analyze(t *testing.T) {
	fp := newFakeProvider(t, respond(`{"summary":"Remove the password literal and guard the division."}`))
	s := NewLLMSynthesizer(fp.llm(t, 0), mustPrompts(t))

	res, err := s.Analyze(context.Background(), sampleSynthesisInput(t))
	require.NoError(t, err)

	require.NotNil(t, res.Synthesis)
	assert.Equal(t, core.ResultFailed, res.Status, "the verdict does not come from the model")
	assert.InDelta(t, 0.6, res.Synthesis.Confidence, 1e-9)
	assert.Contains(t, res.Synthesis.Comment, "Remove the password literal and guard the division.")
	assert.Contains(t, res.Synthesis.Comment, "Division by Zero")

	reqs := fp.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[1].Content, "status failed, confidence 0.60")
}

func TestLLMSynthesizer_Errors(t *testing.T) {
	for name, body := range map[string]string{
		"empty summary": `{"summary":"  "}`,
		"not json":      "Looks good to me!",
	} {
		t.Run(name, func(t *testing.T) {
			fp := newFakeProvider(t, respond(body))
			s := NewLLMSynthesizer(fp.llm(t, 0), mustPrompts(t))
			_, err := s.Analyze(context.Background(), sampleSynthesisInput(t))
			assert.True(t, core.IsCategory(err, core.ErrCatSchema))
		})
	}

	fp := newFakeProvider(t, respond(`{"summary":"x"}`))
	s := NewLLMSynthesizer(fp.llm(t, 0), mustPrompts(t))
	_, err := s.Analyze(context.Background(), "{")
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	assert.Empty(t, fp.Requests())
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1}  `))
	assert.Equal(t, "", stripFences("```"))
}

func TestParseLine(t *testing.T) {
	tests := map[string]int{
		`12`:        12,
		`"12"`:      12,
		`"Line 12"`: 12,
		`"line 7 "`: 7,
		`0`:         0,
		`-3`:        0,
		`"n/a"`:     0,
		`null`:      0,
		``:          0,
	}
	for raw, want := range tests {
		assert.Equal(t, want, parseLine(json.RawMessage(raw)), raw)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, core.SeverityCritical, normalizeSeverity(" CRITICAL "))
	assert.Equal(t, core.SeverityLow, normalizeSeverity("low"))
	assert.Equal(t, core.SeverityMedium, normalizeSeverity("urgent"))
	assert.Equal(t, core.SeverityMedium, normalizeSeverity(""))
}

func TestMergeIssues(t *testing.T) {
	base := []core.Issue{{Type: "Hardcoded Secret", File: "a.py", Line: 2}}
	found := []core.Issue{
		{Type: "hardcoded secret", File: "a.py", Line: 2},
		{Type: "Hardcoded Secret", File: "a.py", Line: 3},
		{Type: "Hardcoded Secret", File: "a.py", Line: 3},
	}
	got := mergeIssues(base, found)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[1].Line)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, []string{"app/billing.py"}, fileNames(testutil.SampleDiff))
	assert.Equal(t, []string{"(snippet)"}, fileNames("x = 1"))
}
