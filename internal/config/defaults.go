package config

// Profile tuning values, matching the two supported window configurations.
const (
	qualityChunkSize = 350
	qualityOverlap   = 50
	fastChunkSize    = 600
	fastOverlap      = 20
)

// GetDefaultRewriteTemplate returns the default template for window rewriting
func GetDefaultRewriteTemplate() string {
	return `You are an editorial assistant specialized in rewriting WITHOUT SUMMARIZING.
Follow the instructions carefully. Preserve all facts, names, dates, examples and logical structure.

{{.LevelInstructions}}
Rules:
1) Do NOT summarize; keep the length similar to the original.
2) Preserve paragraphs; avoid creating or removing unnecessary breaks.
3) Adjust sentences for clarity without deleting content.
4) Stay coherent with what has already been rewritten (previous memory).

Book context (summary):
{{.GlobalSummary}}

Chapter context (summary):
{{.ChapterSummary}}

Previous memory (tail of the last rewritten passage):
{{.MemoryTail}}

Text to rewrite (keep content and length; only simplify the language):
{{.Text}}

Rewritten text:`
}

// GetDefaultSummaryTemplate returns the default template for summarization
func GetDefaultSummaryTemplate() string {
	return `You are an editorial assistant. Produce an OBJECTIVE, NON-EVALUATIVE summary covering all the key ideas.
Do not invent facts. At most 15 lines. Clear language.

Summary scope: {{.Scope}}

Text:
{{.Text}}

Summary:`
}

// GetDefaultSmoothTemplate returns the default template for transition smoothing
func GetDefaultSmoothTemplate() string {
	return `Revise the text below ONLY to smooth transitions between paragraphs and sentences, without removing content, without summarizing, without introducing new ideas. Keep the same information and paragraphs.

Text:
{{.Text}}

Revised text:`
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.Profile == "" {
		cfg.Pipeline.Profile = ProfileQuality
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = 2
	}
	if cfg.Pipeline.ChunkSize == 0 {
		if cfg.Pipeline.Profile == ProfileFast {
			cfg.Pipeline.ChunkSize = fastChunkSize
		} else {
			cfg.Pipeline.ChunkSize = qualityChunkSize
		}
	}
	if cfg.Pipeline.Overlap == 0 {
		if cfg.Pipeline.Profile == ProfileFast {
			cfg.Pipeline.Overlap = fastOverlap
		} else {
			cfg.Pipeline.Overlap = qualityOverlap
		}
	}
	if cfg.Pipeline.WorkDir == "" {
		cfg.Pipeline.WorkDir = "output"
	}
	if cfg.Pipeline.RetryAttempts == 0 {
		cfg.Pipeline.RetryAttempts = 3
	}
	if cfg.Pipeline.RetryDelayMillis == 0 {
		cfg.Pipeline.RetryDelayMillis = 800
	}

	if cfg.Gateway.Backend == "" {
		cfg.Gateway.Backend = "openai"
	}
	if cfg.Gateway.BaseURL == "" {
		if cfg.Gateway.Backend == "ollama" {
			cfg.Gateway.BaseURL = "http://localhost:11434"
		} else {
			cfg.Gateway.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Gateway.ModelName == "" {
		cfg.Gateway.ModelName = "gpt-4o-mini"
	}
	if cfg.Gateway.Temperature == 0 {
		cfg.Gateway.Temperature = 0.3
	}
	if cfg.Gateway.TopP == 0 {
		cfg.Gateway.TopP = 0.9
	}
	if cfg.Gateway.MaxOutputTokens == 0 {
		if cfg.Pipeline.Profile == ProfileFast {
			cfg.Gateway.MaxOutputTokens = 600
		} else {
			cfg.Gateway.MaxOutputTokens = 1200
		}
	}
	if cfg.Gateway.SummaryMaxTokens == 0 {
		if cfg.Pipeline.Profile == ProfileFast {
			cfg.Gateway.SummaryMaxTokens = 300
		} else {
			cfg.Gateway.SummaryMaxTokens = 600
		}
	}
	if cfg.Gateway.RateLimitPerMinute == 0 {
		cfg.Gateway.RateLimitPerMinute = 60
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 90
	}

	if cfg.Validation.MinChars == 0 {
		cfg.Validation.MinChars = 200
	}
	if cfg.Validation.MinUniqueRatio == 0 {
		cfg.Validation.MinUniqueRatio = 0.25
	}
	if cfg.Validation.NGramSize == 0 {
		cfg.Validation.NGramSize = 6
	}
	if cfg.Validation.MaxNGramRepeats == 0 {
		cfg.Validation.MaxNGramRepeats = 5
	}

	if cfg.Context.MemoryTailChars == 0 {
		cfg.Context.MemoryTailChars = 400
	}
	if cfg.Context.GlobalSummaryChapters == 0 {
		cfg.Context.GlobalSummaryChapters = 8
	}
	if cfg.Context.ChapterSampleChars == 0 {
		cfg.Context.ChapterSampleChars = 2000
	}
	if cfg.Context.SummaryInputCap == 0 {
		cfg.Context.SummaryInputCap = 15000
	}

	if cfg.Prompts.Rewrite == "" {
		cfg.Prompts.Rewrite = GetDefaultRewriteTemplate()
	}
	if cfg.Prompts.Summary == "" {
		cfg.Prompts.Summary = GetDefaultSummaryTemplate()
	}
	if cfg.Prompts.Smooth == "" {
		cfg.Prompts.Smooth = GetDefaultSmoothTemplate()
	}
}
