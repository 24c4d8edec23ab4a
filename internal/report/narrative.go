package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const narrativeSystemPrompt = `You summarise NYC taxi CO2 reports for operators.
Write three or four plain sentences. Mention the total, the month with the highest total,
and the busiest carbon-heavy hour. Do not invent numbers that are not in the report.`

// Narrator asks a chat model for a short prose summary of a fleet report.
type Narrator struct {
	client openai.Client
	model  string
}

// NewNarrator creates a narrator. Extra options are passed to the client,
// e.g. option.WithBaseURL.
func NewNarrator(apiKey, model string, opts ...option.RequestOption) (*Narrator, error) {
	if apiKey == "" {
		return nil, errors.New("narrative: API key not set")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Narrator{client: openai.NewClient(opts...), model: model}, nil
}

// Summarise returns the model's summary of rep.
func (n *Narrator) Summarise(ctx context.Context, rep *FleetReport) (string, error) {
	var sb strings.Builder
	if err := RenderText(&sb, rep); err != nil {
		return "", err
	}

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(narrativeSystemPrompt),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative for %s: %w", rep.Fleet, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("narrative for %s: no choices returned", rep.Fleet)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
