package gateway

import (
	"fmt"

	"github.com/lamim/prosepress/internal/config"
	"github.com/lamim/prosepress/internal/util"
	"github.com/lamim/prosepress/pkg/models"
)

// levelInstructions returns the intensity-specific directive injected into
// the rewrite prompt. Every level forbids shortening the content.
func levelInstructions(level models.Level) string {
	switch level {
	case models.LevelLight:
		return "Level: LIGHT. Keep the style and all the content. Rewrite with short, " +
			"clear sentences, explaining difficult terms in parentheses when needed."
	case models.LevelModerate:
		return "Level: MODERATE. Keep all the content and examples, but simplify the wording " +
			"and sentence order for maximum clarity, without summarizing."
	default:
		return "Level: AGGRESSIVE. Keep all the content and details, but simplify vocabulary " +
			"and structure firmly, without summarizing; preserve names, dates and numbers."
	}
}

func renderRewritePrompt(templates config.PromptTemplates, req RewriteRequest) (string, error) {
	prompt, err := util.RenderTemplate(templates.Rewrite, map[string]interface{}{
		"LevelInstructions": levelInstructions(req.Level),
		"GlobalSummary":     req.GlobalSummary,
		"ChapterSummary":    req.ChapterSummary,
		"MemoryTail":        req.MemoryTail,
		"Text":              req.Text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render rewrite template: %w", err)
	}
	return prompt, nil
}

func renderSummaryPrompt(templates config.PromptTemplates, text string, scope Scope) (string, error) {
	prompt, err := util.RenderTemplate(templates.Summary, map[string]interface{}{
		"Scope": string(scope),
		"Text":  text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render summary template: %w", err)
	}
	return prompt, nil
}

func renderSmoothPrompt(templates config.PromptTemplates, text string) (string, error) {
	prompt, err := util.RenderTemplate(templates.Smooth, map[string]interface{}{
		"Text": text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render smooth template: %w", err)
	}
	return prompt, nil
}
