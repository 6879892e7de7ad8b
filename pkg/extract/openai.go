package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"github.com/tempograph/tempograph/pkg/types"
)

const DefaultModel = "gpt-4o-mini"

const extractionSystemPrompt = `You are an information extraction engine for a temporal knowledge graph.
Given an episode of text, extract the entities it mentions and the factual relationships between them.

Respond with a single JSON object in exactly this format:
{
  "entities": [
    {"name": "...", "type": "...", "summary": "...", "confidence": 0.0, "span": "..."}
  ],
  "edges": [
    {"source_name": "...", "target_name": "...", "label": "...", "fact": "...", "confidence": 0.0, "span": "..."}
  ]
}

Rules:
- "name" is the canonical surface form of the entity as written.
- "label" is a short UPPER_SNAKE_CASE relation name such as WORKS_ON or LOCATED_IN.
- "fact" is one self-contained sentence stating the relationship.
- "span" quotes the supporting fragment of the episode verbatim.
- "confidence" is your certainty in [0, 1].
- Extract only facts stated or directly implied by the episode. Do not invent.
- Return {"entities": [], "edges": []} if the episode contains no extractable facts.`

// Config holds settings for the OpenAI extraction client.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
}

// OpenAIClient extracts candidates with an OpenAI-compatible chat model.
type OpenAIClient struct {
	client *openai.Client
	model  string
	temp   float32
}

// NewOpenAIClient creates an extraction client from the config.
func NewOpenAIClient(config *Config) *OpenAIClient {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		temp:   config.Temperature,
	}
}

// Extract prompts the model and parses its JSON response.
func (c *OpenAIClient) Extract(ctx context.Context, episode *types.Episode) (*types.Extraction, error) {
	userPrompt := fmt.Sprintf("Episode name: %s\nEpisode time: %s\nEpisode type: %s\n\nEpisode content:\n%s",
		episode.Name, episode.Reference.Format("2006-01-02T15:04:05Z07:00"), episode.Type, episode.Content)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExtraction, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", types.ErrExtraction)
	}

	return ParseExtraction(resp.Choices[0].Message.Content)
}

// ParseExtraction parses a model response into an Extraction, repairing
// malformed JSON before giving up.
func ParseExtraction(content string) (*types.Extraction, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", types.ErrExtraction)
	}

	var extraction types.Extraction
	if err := json.Unmarshal([]byte(content), &extraction); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: unparseable response: %v", types.ErrExtraction, err)
		}
		if err := json.Unmarshal([]byte(repaired), &extraction); err != nil {
			return nil, fmt.Errorf("%w: unparseable response after repair: %v", types.ErrExtraction, err)
		}
	}

	sanitize(&extraction)
	return &extraction, nil
}

// sanitize drops candidates the resolver could never place and clamps
// confidences into [0, 1].
func sanitize(x *types.Extraction) {
	entities := x.Entities[:0]
	for _, e := range x.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		e.Confidence = clamp01(e.Confidence)
		entities = append(entities, e)
	}
	x.Entities = entities

	edges := x.Edges[:0]
	for _, e := range x.Edges {
		e.SourceName = strings.TrimSpace(e.SourceName)
		e.TargetName = strings.TrimSpace(e.TargetName)
		e.Label = strings.TrimSpace(e.Label)
		if e.SourceName == "" || e.TargetName == "" || e.Label == "" {
			continue
		}
		e.Confidence = clamp01(e.Confidence)
		edges = append(edges, e)
	}
	x.Edges = edges
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Close cleans up any resources.
func (c *OpenAIClient) Close() error { return nil }

var _ Client = (*OpenAIClient)(nil)
