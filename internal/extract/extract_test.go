package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func intPtr(i int) *int { return &i }

func TestRecordValidate(t *testing.T) {
	allowed := []SubCategory{{ID: "sc-1", Name: "Algebra"}, {ID: "sc-2", Name: "Geometry"}}

	tests := []struct {
		name    string
		rec     Record
		allowed []SubCategory
		wantErr string
	}{
		{"valid", Record{Title: "T", Content: "C", SubCategoryID: "sc-2", Difficulty: intPtr(3)}, allowed, ""},
		{"no sub-category", Record{Title: "T", Content: "C"}, allowed, ""},
		{"any sub-category without allowed set", Record{Title: "T", Content: "C", SubCategoryID: "zzz"}, nil, ""},
		{"missing title", Record{Content: "C"}, allowed, "title is required"},
		{"blank content", Record{Title: "T", Content: "  "}, allowed, "content is required"},
		{"unknown sub-category", Record{Title: "T", Content: "C", SubCategoryID: "sc-9"}, allowed, `"sc-9" is not allowed`},
		{"difficulty too high", Record{Title: "T", Content: "C", Difficulty: intPtr(6)}, allowed, "difficulty 6 out of range"},
		{"difficulty negative", Record{Title: "T", Content: "C", Difficulty: intPtr(-1)}, allowed, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate(tt.allowed)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRecord)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRecordNormalize(t *testing.T) {
	rec := Record{Title: "  Title ", Content: "body\n", TopicID: "own-topic", Tags: []string{"a", " ", "b", "a "}}
	rec.Normalize(Context{SubjectID: "subj", TopicID: "ctx-topic"})

	assert.Equal(t, "Title", rec.Title)
	assert.Equal(t, "body", rec.Content)
	assert.Equal(t, "subj", rec.SubjectID)
	assert.Equal(t, "own-topic", rec.TopicID)
	assert.Equal(t, []string{"a", "b"}, rec.Tags)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! Here it is: {\"a\":{\"b\":2}} Hope that helps.", `{"a":{"b":2}}`},
		{"trailing commas", "{\"a\":[1,2,],\n\"b\":3,\n}", "{\"a\":[1,2],\n\"b\":3\n}"},
		{"braces in strings", `{"a":"}{,]"}`, `{"a":"}{,]"}`},
		{"escaped quote", `{"a":"say \"hi\", }"}`, `{"a":"say \"hi\", }"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RepairJSON("I cannot read this image.")
	assert.ErrorIs(t, err, ErrNoJSON)
	_, err = RepairJSON(`{"a": 1`)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult("```json\n{\"success\": true, \"record\": {\"title\": \"T\", \"content\": \"C\", \"tags\": [\"x\",],},}\n```")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "T", res.Record.Title)
	assert.Equal(t, []string{"x"}, res.Record.Tags)

	res, err = ParseResult(`{"title": "Bare", "content": "record"}`)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Bare", res.Record.Title)

	res, err = ParseResult(`{"success": false}`)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "extraction failed", res.Message)

	res, err = ParseResult(`{"success": true}`)
	require.NoError(t, err)
	assert.False(t, res.Success)

	_, err = ParseResult("nothing here")
	assert.Error(t, err)
}

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLLMExtractor_SendsImageAndContext(t *testing.T) {
	model := &fakeModel{reply: `{"success": true, "record": {"title": "Quadratics", "content": "x^2", "sub_category_id": "sc-1"}}`}
	ex := NewLLMExtractor(model, quietLogger())

	ec := Context{SubjectID: "math", TopicID: "algebra", AllowedSubCategories: []SubCategory{{ID: "sc-1", Name: "Equations"}}}
	res, err := ex.Extract(context.Background(), []byte{0xff, 0xd8}, "image/jpeg", ec)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "math", res.Record.SubjectID)
	assert.Equal(t, "algebra", res.Record.TopicID)

	require.Len(t, model.messages, 2)
	human := model.messages[1]
	require.Len(t, human.Parts, 2)
	bin, ok := human.Parts[0].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", bin.MIMEType)
	text, ok := human.Parts[1].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "sc-1: Equations")
}

func TestLLMExtractor_MalformedReplyIsUnsuccessfulResult(t *testing.T) {
	ex := NewLLMExtractor(&fakeModel{reply: "sorry, no"}, quietLogger())
	res, err := ex.Extract(context.Background(), []byte("x"), "image/png", Context{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
}

func TestLLMExtractor_ModelErrorPropagates(t *testing.T) {
	ex := NewLLMExtractor(&fakeModel{err: errors.New("connection refused")}, quietLogger())
	_, err := ex.Extract(context.Background(), []byte("x"), "image/png", Context{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(ModelConfig{Provider: ProviderOpenAI, Model: "gpt-4o"})
	assert.ErrorContains(t, err, "API key required")
	_, err = NewModel(ModelConfig{Provider: ProviderAnthropic, Model: "claude"})
	assert.ErrorContains(t, err, "API key required")
	_, err = NewModel(ModelConfig{Provider: "bard"})
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

type countingExtractor struct{ calls int }

func (c *countingExtractor) Extract(context.Context, []byte, string, Context) (Result, error) {
	c.calls++
	return Result{Success: true, Record: &Record{Title: "t", Content: "c"}}, nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingExtractor{}
	rl := NewRateLimited(inner, 1, 1)

	_, err := rl.Extract(context.Background(), nil, "", Context{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Extract(ctx, nil, "", Context{})
	assert.Error(t, err, "second call within the same second should not fit in the deadline")
	assert.Equal(t, 1, inner.calls)
}

func TestRateLimited_Burst(t *testing.T) {
	inner := &countingExtractor{}
	rl := NewRateLimited(inner, 0.001, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		_, err := rl.Extract(ctx, nil, "", Context{})
		require.NoError(t, err)
	}
	_, err := rl.Extract(ctx, nil, "", Context{})
	assert.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}
