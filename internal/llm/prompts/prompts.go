// Package prompts renders the essay grading prompts sent to the LLM.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var embedded embed.FS

var (
	essayTagRegex           = regexp.MustCompile(`(?i)</?\s*candidate-essay\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxEssayRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades like a senior examiner on a borderline script.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient gives the benefit of the doubt between adjacent bands.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce      sync.Once
	loadErr       error
	evalTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// EvalData holds template data for essay evaluation prompts.
type EvalData struct {
	Question string
	Essay    string
	Words    int
}

// Load parses the prompt templates from fsys, or from the embedded copies
// when fsys is nil. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = embedded
		}
		evalTemplates = make(map[PromptVariant]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/eval_" + string(v) + ".txt"

			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New("eval").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			evalTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildEvalPrompt renders the system prompt asking for a band score and
// feedback for one essay.
func BuildEvalPrompt(variant PromptVariant, question, essay string) (string, error) {
	if evalTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := evalTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := EvalData{
		Question: strings.TrimSpace(question),
		Essay:    sanitizeEssay(essay),
		Words:    len(strings.Fields(essay)),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// sanitizeEssay strips tags that could break out of the essay block and
// truncates very long submissions.
func sanitizeEssay(essay string) string {
	essay = essayTagRegex.ReplaceAllString(essay, "")
	essay = systemInstructionsRegex.ReplaceAllString(essay, "")
	essay = strings.TrimSpace(essay)

	if essay == "" {
		return "[No essay provided]"
	}

	if utf8.RuneCountInString(essay) > maxEssayRunes {
		runes := []rune(essay)
		essay = string(runes[:maxEssayRunes]) + "\n\n[Essay truncated due to length]"
	}
	return essay
}
