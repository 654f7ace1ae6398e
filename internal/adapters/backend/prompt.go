package backend

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptMeta describes an embedded prompt.
type PromptMeta struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	Stage  string `json:"stage" yaml:"stage"`
	System string `json:"system" yaml:"system"`
	Sha256 string `json:"sha256" yaml:"-"`
}

type prompt struct {
	meta PromptMeta
	tmpl *template.Template
}

// Prompts renders the embedded prompt templates, one per stage.
type Prompts struct {
	byStage map[core.StageID]*prompt
}

// LoadPrompts parses every embedded template and its frontmatter.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{byStage: make(map[core.StageID]*prompt)}
	err := fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")

		fmRaw, body, ok := splitFrontmatter(string(content))
		if !ok {
			return fmt.Errorf("missing frontmatter (id=%s)", id)
		}
		var meta PromptMeta
		if err := yaml.Unmarshal([]byte(fmRaw), &meta); err != nil {
			return fmt.Errorf("parsing frontmatter (id=%s): %w", id, err)
		}
		if err := validateMeta(meta, id); err != nil {
			return err
		}
		sum := sha256.Sum256([]byte(body))
		meta.Sha256 = hex.EncodeToString(sum[:])

		tmpl, err := template.New(id).Funcs(template.FuncMap{
			"join":      strings.Join,
			"trimSpace": strings.TrimSpace,
		}).Parse(body)
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", id, err)
		}
		p.byStage[core.StageID(meta.Stage)] = &prompt{meta: meta, tmpl: tmpl}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func splitFrontmatter(raw string) (frontmatter, body string, ok bool) {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(s, "---\n") {
		return "", s, false
	}
	rest := s[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end == -1 {
		return "", s, false
	}
	return rest[:end], strings.TrimLeft(rest[end+len("\n---\n"):], "\n"), true
}

func validateMeta(meta PromptMeta, id string) error {
	if meta.ID != id {
		return fmt.Errorf("frontmatter: id %q does not match filename %q", meta.ID, id)
	}
	if strings.TrimSpace(meta.Title) == "" {
		return fmt.Errorf("frontmatter: title is required (id=%s)", id)
	}
	if _, err := core.ParseStageID(meta.Stage); err != nil {
		return fmt.Errorf("frontmatter: %w (id=%s)", err, id)
	}
	if strings.TrimSpace(meta.System) == "" {
		return fmt.Errorf("frontmatter: system is required (id=%s)", id)
	}
	return nil
}

// List returns prompt metadata sorted by stage.
func (p *Prompts) List() []PromptMeta {
	out := make([]PromptMeta, 0, len(p.byStage))
	for _, pr := range p.byStage {
		out = append(out, pr.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Render returns the system and user messages for a stage.
func (p *Prompts) Render(stage core.StageID, data any) (system, user string, err error) {
	pr, ok := p.byStage[stage]
	if !ok {
		return "", "", fmt.Errorf("no prompt for stage %s", stage)
	}
	var buf bytes.Buffer
	if err := pr.tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering %s prompt: %w", stage, err)
	}
	return strings.TrimSpace(pr.meta.System), buf.String(), nil
}

// AnalysisPromptData feeds the security and runtime templates.
type AnalysisPromptData struct {
	Diff   string
	Files  []string
	Part   int
	Parts  int
	Static []core.Issue
}

// SynthesisPromptData feeds the synthesis template.
type SynthesisPromptData struct {
	Files          []string
	Additions      int
	Deletions      int
	Stages         string
	Status         core.ResultStatus
	Confidence     float64
	Recommendation core.Recommendation
}
