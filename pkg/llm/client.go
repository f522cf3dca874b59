// Package llm wraps the OpenAI chat API for the two callers: the
// tool-driven investigation loop and the one-shot weekly digest.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ToolSpec declares one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolUse is one tool invocation the model requested.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Turn is the model's reply to one chat round: free text plus zero or more
// tool invocations.
type Turn struct {
	Text     string
	ToolUses []ToolUse
	Raw      openai.ChatCompletionMessage
}

// Chat is the model interface the agent and digest renderer depend on.
// Satisfied by *Client; tests substitute a scripted fake.
type Chat interface {
	ToolTurn(ctx context.Context, messages []openai.ChatCompletionMessage, tools []ToolSpec) (*Turn, error)
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Client is the production OpenAI-backed implementation.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a client for the given API key and model.
func New(apiKey, model string) *Client {
	return &Client{api: openai.NewClient(apiKey), model: model}
}

// NewWithConfig creates a client against a custom endpoint (tests, proxies).
func NewWithConfig(cfg openai.ClientConfig, model string) *Client {
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// ToolTurn runs one chat round with the tool set attached and decodes any
// tool invocations from the reply.
func (c *Client) ToolTurn(ctx context.Context, messages []openai.ChatCompletionMessage, tools []ToolSpec) (*Turn, error) {
	oaTools := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		oaTools = append(oaTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    oaTools,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	turn := &Turn{Text: msg.Content, Raw: msg}
	for _, tc := range msg.ToolCalls {
		if tc.Type != openai.ToolTypeFunction {
			continue
		}
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments become an empty input rather than a
			// failed turn; the tool reports the missing fields itself.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		turn.ToolUses = append(turn.ToolUses, ToolUse{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return turn, nil
}

// Complete runs a single system+user exchange and returns the text reply.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
