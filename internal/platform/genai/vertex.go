package genai

import (
	"context"
	"fmt"
	"strings"

	vertex "cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// VertexClient calls a Gemini model on Vertex AI. Calls are rate limited
// process-wide.
type VertexClient struct {
	baseClient *vertex.Client
	modelName  string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewVertexClient(ctx context.Context, projectID, region, modelName string, rps float64, logger zerolog.Logger) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := vertex.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &VertexClient{
		baseClient: baseClient,
		modelName:  modelName,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With().Str("component", "vertex").Str("model", modelName).Logger(),
	}, nil
}

// Generate sends req to the model and returns the concatenated, fence
// stripped text of the first candidate.
func (c *VertexClient) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("genai rate limit: %w", err)
	}

	model := c.baseClient.GenerativeModel(c.modelName)
	model.GenerationConfig = vertex.GenerationConfig{
		Temperature: vertex.Ptr[float32](req.Temperature),
	}
	if req.System != "" {
		model.SystemInstruction = &vertex.Content{
			Parts: []vertex.Part{vertex.Text(req.System)},
		}
	}

	parts := []vertex.Part{vertex.Text(req.Prompt)}
	if req.Image != nil {
		parts = append(parts, vertex.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := c.extractText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	if IsRefusal(text) {
		c.logger.Warn().Str("response", text).Msg("model refusal detected")
		return "", ErrRefused
	}
	return text, nil
}

func (c *VertexClient) extractText(resp *vertex.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	var textParts int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(vertex.Text); ok {
			sb.WriteString(string(txt))
			textParts++
		}
	}
	if textParts > 1 {
		c.logger.Debug().Int("parts", textParts).Msg("response text parts concatenated")
	}
	return StripFences(sb.String())
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
