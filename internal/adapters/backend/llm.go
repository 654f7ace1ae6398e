package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/diffutil"
)

// Known providers and their OpenAI-compatible endpoints.
var providerBaseURLs = map[string]string{
	"groq":   "https://api.groq.com/openai/v1",
	"gemini": "https://generativelanguage.googleapis.com/v1beta/openai",
	"openai": "https://api.openai.com/v1",
}

// diffSeparators split a diff at file, then hunk, then line boundaries.
var diffSeparators = []string{"\ndiff --git ", "\n@@ ", "\n\n", "\n", ""}

// LLMConfig configures a hosted model.
type LLMConfig struct {
	Name        string
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float32
	ChunkSize   int // in characters; zero sends the input whole
	HTTPClient  *http.Client
}

// LLM is a chat-completion client shared by every stage a backend serves.
type LLM struct {
	cfg    LLMConfig
	client *openai.Client
}

// NewLLM creates a client. The base URL defaults from the provider.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Provider
	}
	if cfg.BaseURL == "" {
		url, ok := providerBaseURLs[cfg.Provider]
		if !ok {
			return nil, core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("backend %s: unknown provider %q and no base_url", cfg.Name, cfg.Provider))
		}
		cfg.BaseURL = url
	}
	if cfg.Model == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("backend %s: model is required", cfg.Name))
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &LLM{cfg: cfg, client: openai.NewClientWithConfig(oc)}, nil
}

// Name returns the configured backend name.
func (l *LLM) Name() string { return l.cfg.Name }

// Configured reports whether an API key is set.
func (l *LLM) Configured() bool { return l.cfg.APIKey != "" }

// Model returns the model identifier.
func (l *LLM) Model() string { return l.cfg.Model }

func (l *LLM) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
	})
	if err != nil {
		return "", l.classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", core.ErrSchema(fmt.Sprintf("backend %s returned no content", l.cfg.Name))
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *LLM) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests:
		return core.ErrRateLimit(fmt.Sprintf("backend %s: provider rate limit", l.cfg.Name)).WithCause(err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.ErrAuth(fmt.Sprintf("backend %s: credential rejected", l.cfg.Name)).WithCause(err)
	}
	return core.ErrExecution(core.CodeBackendFailed, fmt.Sprintf("backend %s: request failed", l.cfg.Name)).
		WithCause(err).WithDetail("status", status)
}

// chunks splits the input so each request stays within ChunkSize.
func (l *LLM) chunks(input string) ([]string, error) {
	if l.cfg.ChunkSize <= 0 || len(input) <= l.cfg.ChunkSize {
		return []string{input}, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(l.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(diffSeparators),
	)
	parts, err := splitter.SplitText(input)
	if err != nil {
		return nil, fmt.Errorf("splitting input: %w", err)
	}
	if len(parts) == 0 {
		return []string{input}, nil
	}
	return parts, nil
}

// ========================================
// Response parsing
// ========================================

type rawIssue struct {
	Type           string          `json:"type"`
	Severity       string          `json:"severity"`
	File           string          `json:"file"`
	Line           json.RawMessage `json:"line"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation"`
}

type analysisResponse struct {
	Summary string     `json:"summary"`
	Issues  []rawIssue `json:"issues"`
}

// stripFences removes a surrounding markdown code fence.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	end := len(lines)
	if end > 1 && strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	if end <= 1 {
		return ""
	}
	return strings.Join(lines[1:end], "\n")
}

func parseAnalysis(name, content string) (analysisResponse, []core.Issue, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &resp); err != nil {
		return resp, nil, core.ErrSchema(fmt.Sprintf("backend %s returned malformed JSON", name)).WithCause(err)
	}
	issues := make([]core.Issue, 0, len(resp.Issues))
	for _, ri := range resp.Issues {
		is := core.Issue{
			Type:           strings.TrimSpace(ri.Type),
			Severity:       normalizeSeverity(ri.Severity),
			File:           strings.TrimSpace(ri.File),
			Line:           parseLine(ri.Line),
			Description:    strings.TrimSpace(ri.Description),
			Recommendation: strings.TrimSpace(ri.Recommendation),
		}
		if is.Type == "" {
			is.Type = "Finding"
		}
		if is.Description == "" {
			is.Description = is.Type
		}
		issues = append(issues, is)
	}
	return resp, issues, nil
}

func normalizeSeverity(s string) core.Severity {
	sev := core.Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return core.SeverityMedium
	}
	return sev
}

// parseLine accepts 12, "12" and "Line 12".
func parseLine(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "line"))
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 0
}

// mergeIssues appends found to base, dropping findings already reported at
// the same place with the same type.
func mergeIssues(base, found []core.Issue) []core.Issue {
	seen := make(map[string]struct{}, len(base))
	key := func(is core.Issue) string {
		return strings.ToLower(is.Type) + "\x00" + is.File + "\x00" + strconv.Itoa(is.Line)
	}
	for _, is := range base {
		seen[key(is)] = struct{}{}
	}
	for _, is := range found {
		k := key(is)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		base = append(base, is)
	}
	return base
}

func fileNames(input string) []string {
	var names []string
	for _, f := range diffutil.Parse(input) {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		names = []string{"(snippet)"}
	}
	return names
}

// ========================================
// Stage backends
// ========================================

// LLMAnalyzer runs an analysis stage on a hosted model. A static pre-pass
// runs first; its findings are kept and passed to the model so it looks for
// what the scanner cannot see.
type LLMAnalyzer struct {
	llm     *LLM
	stage   core.StageID
	prompts *Prompts
	prepass core.Backend
}

// NewLLMAnalyzer creates an analysis backend. prepass may be nil.
func NewLLMAnalyzer(llm *LLM, stage core.StageID, prompts *Prompts, prepass core.Backend) *LLMAnalyzer {
	return &LLMAnalyzer{llm: llm, stage: stage, prompts: prompts, prepass: prepass}
}

// Name returns the backend name.
func (a *LLMAnalyzer) Name() string { return a.llm.Name() }

// Configured reports whether the model's key is set.
func (a *LLMAnalyzer) Configured() bool { return a.llm.Configured() }

// Analyze asks the model about each chunk of the input.
func (a *LLMAnalyzer) Analyze(ctx context.Context, input string) (*core.Result, error) {
	var static []core.Issue
	if a.prepass != nil {
		res, err := a.prepass.Analyze(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("static pre-pass: %w", err)
		}
		static = res.Issues
	}

	parts, err := a.llm.chunks(input)
	if err != nil {
		return nil, err
	}
	files := fileNames(input)

	issues := append([]core.Issue{}, static...)
	var summaries []string
	for i, part := range parts {
		system, user, err := a.prompts.Render(a.stage, AnalysisPromptData{
			Diff:   part,
			Files:  files,
			Part:   i + 1,
			Parts:  len(parts),
			Static: static,
		})
		if err != nil {
			return nil, err
		}
		content, err := a.llm.complete(ctx, system, user)
		if err != nil {
			return nil, err
		}
		resp, found, err := parseAnalysis(a.llm.Name(), content)
		if err != nil {
			return nil, err
		}
		if s := strings.TrimSpace(resp.Summary); s != "" {
			summaries = append(summaries, s)
		}
		issues = mergeIssues(issues, found)
	}

	return core.NewResult(strings.Join(summaries, " "), issues), nil
}

// LLMSynthesizer asks a model for the prose of the review comment. The
// verdict and the findings come from the same assessment the template
// synthesizer uses.
type LLMSynthesizer struct {
	llm     *LLM
	prompts *Prompts
}

// NewLLMSynthesizer creates a synthesis backend.
func NewLLMSynthesizer(llm *LLM, prompts *Prompts) *LLMSynthesizer {
	return &LLMSynthesizer{llm: llm, prompts: prompts}
}

// Name returns the backend name.
func (s *LLMSynthesizer) Name() string { return s.llm.Name() }

// Configured reports whether the model's key is set.
func (s *LLMSynthesizer) Configured() bool { return s.llm.Configured() }

// Analyze writes the comment for an encoded core.SynthesisInput.
func (s *LLMSynthesizer) Analyze(ctx context.Context, input string) (*core.Result, error) {
	in, err := decodeSynthesisInput(input)
	if err != nil {
		return nil, err
	}
	a := core.Assess(in.Stages)

	stages, err := json.MarshalIndent(in.Stages, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding stages: %w", err)
	}
	stats := diffutil.Summarize(in.Input)
	system, user, err := s.prompts.Render(core.StageSynthesis, SynthesisPromptData{
		Files:          fileNames(in.Input),
		Additions:      stats.Additions,
		Deletions:      stats.Deletions,
		Stages:         string(stages),
		Status:         a.Status,
		Confidence:     a.Confidence,
		Recommendation: a.Recommendation,
	})
	if err != nil {
		return nil, err
	}

	content, err := s.llm.complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &resp); err != nil {
		return nil, core.ErrSchema(fmt.Sprintf("backend %s returned malformed JSON", s.llm.Name())).WithCause(err)
	}
	prose := strings.TrimSpace(resp.Summary)
	if prose == "" {
		return nil, core.ErrSchema(fmt.Sprintf("backend %s returned an empty summary", s.llm.Name()))
	}
	return compose(in, a, prose), nil
}
