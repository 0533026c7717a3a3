package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ModelConfig selects and authenticates a vision-capable model.
type ModelConfig struct {
	Provider        string
	Model           string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// NewModel creates an LLM based on configuration.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.OllamaHost != "" {
			opts = append(opts, ollama.WithServerURL(cfg.OllamaHost))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err := anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

const systemPrompt = `You convert a photographed or scanned page into one structured study record.
Reply with a single JSON object and nothing else:
{"success": true, "record": {"title": "...", "content": "...", "sub_category_id": "...", "tags": ["..."], "difficulty": 0}}
- content is the full text of the page in Markdown.
- sub_category_id must be one of the allowed ids, or omitted when none fits.
- difficulty is an integer from 0 (trivial) to 5 (expert), or omitted.
If the image is unreadable or contains no usable content reply {"success": false, "message": "<reason>"}.`

// LLMExtractor asks a multimodal model to describe an image as a Record.
type LLMExtractor struct {
	model  llms.Model
	logger *slog.Logger
}

func NewLLMExtractor(model llms.Model, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{model: model, logger: logger}
}

func (e *LLMExtractor) Extract(ctx context.Context, data []byte, mimeType string, ec Context) (Result, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, data),
				llms.TextPart(userPrompt(ec)),
			},
		},
	}

	response, err := e.model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return Result{}, fmt.Errorf("no response choices")
	}

	raw := response.Choices[0].Content
	res, err := ParseResult(raw)
	if err != nil {
		e.logger.Warn("unparseable extraction response", "err", err, "len", len(raw))
		return Result{Success: false, Message: "extraction returned malformed output"}, nil
	}
	if res.Success && res.Record != nil {
		res.Record.Normalize(ec)
	}
	return res, nil
}

func userPrompt(ec Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", ec.SubjectID)
	if ec.TopicID != "" {
		fmt.Fprintf(&b, "Topic: %s\n", ec.TopicID)
	}
	if len(ec.AllowedSubCategories) == 0 {
		b.WriteString("Allowed sub-categories: none, omit sub_category_id.\n")
	} else {
		b.WriteString("Allowed sub-categories:\n")
		for _, sc := range ec.AllowedSubCategories {
			fmt.Fprintf(&b, "- %s: %s\n", sc.ID, sc.Name)
		}
	}
	b.WriteString("\nExtract the record:")
	return b.String()
}

// ParseResult decodes a model reply, repairing the usual formatting slips
// first. A reply that is a bare record is treated as a success.
func ParseResult(raw string) (Result, error) {
	cleaned, err := RepairJSON(raw)
	if err != nil {
		return Result{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	if _, ok := fields["success"]; !ok {
		if _, hasTitle := fields["title"]; hasTitle {
			var rec Record
			if err := json.Unmarshal([]byte(cleaned), &rec); err != nil {
				return Result{}, fmt.Errorf("decode record: %w", err)
			}
			return Result{Success: true, Record: &rec}, nil
		}
	}

	var res Result
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if res.Success && res.Record == nil {
		return Result{Success: false, Message: "extraction reported success without a record"}, nil
	}
	if !res.Success && res.Message == "" {
		res.Message = "extraction failed"
	}
	return res, nil
}
