package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
)

const instrumentationName = "github.com/fyrsmithlabs/docuchat/internal/answer"

var (
	// ErrEmptyQuestion indicates a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrGeneration indicates the LLM call failed.
	ErrGeneration = errors.New("llm generation failed")
)

const (
	contextIntro = "Here are the most relevant parts of the document for answering the question:\n\n"
	contextOutro = "\n\nPlease use this context to answer the question. If the context doesn't contain enough " +
		"information, you can also refer to other parts of the document that you remember."
	fallbackPrompt = "Please answer the question based on your knowledge of the document."

	summaryPrompt = "You are an assistant designed to give summaries of uploaded documents. Your answers should be " +
		"decently long, in the form of bullet points. Make sure to include every point discussed in the document. " +
		"Being verbose is highly preferable compared to missing ideas in the document. Here is the document to recap:"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// StreamFunc receives generated text as it arrives. Returning an error
// aborts generation.
type StreamFunc func(ctx context.Context, chunk string) error

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	QueryDocuments(ctx context.Context, collection, query string, k int) ([]collections.Result, error)
}

var _ Retriever = (*collections.Store)(nil)

// Answer is a generated reply and the chunks it was grounded on.
type Answer struct {
	Text    string               `json:"answer"`
	Model   string               `json:"model"`
	Sources []collections.Result `json:"sources"`
}

// Grounded reports whether any retrieved chunk was given to the model.
func (a Answer) Grounded() bool { return len(a.Sources) > 0 }

// Service answers questions about a collection and summarises documents.
type Service struct {
	retriever Retriever
	model     llms.Model
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewService creates a Service. retriever may be nil when only
// Summarize is used.
func NewService(retriever Retriever, model llms.Model, cfg Config, logger *zap.Logger) (*Service, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever: retriever,
		model:     model,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// ContextPrompt builds the system prompt from retrieved chunks. With no
// chunks it returns a prompt asking the model to rely on what it knows.
func ContextPrompt(results []collections.Result) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return fallbackPrompt
	}
	return contextIntro + strings.Join(texts, "\n\n") + contextOutro
}

// Ask answers question from the chunks of collection closest to it.
// history holds the earlier turns, oldest first. When stream is set the
// reply is also delivered incrementally.
func (s *Service) Ask(ctx context.Context, collection string, history []Message, question string, stream StreamFunc) (_ Answer, err error) {
	ctx, span := s.tracer.Start(ctx, "answer.Ask", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("history", len(history)),
	))
	defer endSpan(span, &err)

	if strings.TrimSpace(question) == "" {
		return Answer{}, ErrEmptyQuestion
	}
	if s.retriever == nil {
		return Answer{}, fmt.Errorf("%w: no retriever configured", ErrInvalidConfig)
	}

	results, err := s.retriever.QueryDocuments(ctx, collection, question, s.cfg.ContextResults)
	if err != nil {
		return Answer{}, err
	}
	if len(results) == 0 {
		s.logger.Warn("no relevant chunks found, answering without context",
			zap.String("collection", collection))
	}

	msgs := make([]llms.MessageContent, 0, len(history)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, ContextPrompt(results)))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))

	text, err := s.generate(ctx, msgs, stream, llms.WithTemperature(s.cfg.Temperature))
	if err != nil {
		return Answer{}, err
	}
	span.SetAttributes(attribute.Int("sources", len(results)))
	return Answer{Text: text, Model: s.cfg.Model, Sources: results}, nil
}

// Summarize returns a bullet point summary of text. Empty text yields an
// empty summary without calling the model.
func (s *Service) Summarize(ctx context.Context, text string, stream StreamFunc) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "answer.Summarize", trace.WithAttributes(
		attribute.Int("chars", len(text)),
	))
	defer endSpan(span, &err)

	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summaryPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}
	return s.generate(ctx, msgs, stream,
		llms.WithTemperature(DefaultTemperature),
		llms.WithMaxTokens(s.cfg.MaxTokens),
	)
}

func (s *Service) generate(ctx context.Context, msgs []llms.MessageContent, stream StreamFunc, opts ...llms.CallOption) (string, error) {
	opts = append(opts, llms.WithModel(s.cfg.Model))
	if stream != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return stream(ctx, string(chunk))
		}))
	}

	resp, err := s.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return resp.Choices[0].Content, nil
}

func messageType(r Role) llms.ChatMessageType {
	if r == RoleAssistant {
		return llms.ChatMessageTypeAI
	}
	return llms.ChatMessageTypeHuman
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
