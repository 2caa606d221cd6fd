package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider streams from a chat completions endpoint. It serves both
// OpenAI itself and OpenAI-compatible servers selected by base URL.
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates a provider. baseURL may be empty.
func NewOpenAIProvider(name, apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), name: name}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Stream(ctx context.Context, req CallRequest) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(req.Model),
			Messages: buildOpenAIMessages(req.System, req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
		}
		switch req.ReasoningEffort {
		case "low", "medium", "high":
			params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if tool, ok := acc.JustFinishedToolCall(); ok {
				call := ToolCall{ID: tool.ID, Name: tool.Name, Arguments: json.RawMessage(tool.Arguments)}
				if err := send(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
					return err
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if field, ok := delta.JSON.ExtraFields["reasoning_content"]; ok {
				var text string
				if json.Unmarshal([]byte(field.Raw()), &text) == nil && text != "" {
					if err := send(ctx, events, Event{Type: EventReasoningDelta, Text: text}); err != nil {
						return err
					}
				}
			}
			if delta.Content != "" {
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: delta.Content}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("%s streaming error: %w", p.name, err)
		}

		usage := Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		}
		if err := send(ctx, events, Event{Type: EventUsage, Use: &usage}); err != nil {
			return err
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case RoleUser:
			out = append(out, buildOpenAIUser(msg.Parts))
		case RoleAssistant:
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for _, part := range msg.Parts {
				if part.Type != PartToolCall || part.ToolCall == nil {
					continue
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: part.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.ToolCall.Name,
						Arguments: string(part.ToolCall.Arguments),
					},
				})
			}
			text := msg.Text()
			if text == "" && len(toolCalls) == 0 {
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			if len(toolCalls) > 0 {
				assistant.ToolCalls = toolCalls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAIUser(parts []Part) openai.ChatCompletionMessageParamUnion {
	hasImage := false
	for _, part := range parts {
		if part.Type == PartImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openai.UserMessage(Message{Parts: parts}.Text())
	}

	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			content = append(content, openai.TextContentPart(part.Text))
		case PartImage:
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + part.Mime + ";base64," + part.Data,
			}))
		}
	}
	return openai.UserMessage(content)
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  shared.FunctionParameters(spec.Schema),
			},
		})
	}
	return tools
}
