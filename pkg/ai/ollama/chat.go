package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	baseContextTokens    = 200
	defaultContextWindow = 4096
)

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.GenerateOptions{
		Model:       c.extractionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := systemMessages(options.SystemPrompts)
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	content, err := c.chat(ctx, options, msgs, json.RawMessage(formatBytes))
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}

// GenerateChat sends a multi-turn conversation and returns assistant text.
func (c *GraphOllamaClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.2,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := systemMessages(options.SystemPrompts)
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Message})
	}
	return c.chat(ctx, options, msgs, nil)
}

func systemMessages(prompts []string) []api.Message {
	msgs := make([]api.Message, 0, len(prompts)+1)
	for _, sys := range prompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	return msgs
}

func (c *GraphOllamaClient) chat(
	ctx context.Context,
	options ai.GenerateOptions,
	msgs []api.Message,
	format json.RawMessage,
) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   format,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	if tokens := estimateContext(msgs); tokens > defaultContextWindow {
		req.Options["num_ctx"] = tokens
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var content strings.Builder
	var metrics api.Metrics
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		content.WriteString(cr.Message.Content)
		if cr.Done {
			metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}

	c.recordChatMetrics(ctx, metrics)
	return content.String(), nil
}

// estimateContext returns the token count of msgs plus headroom for the reply
// framing. Without a loadable encoding it falls back to a 4 chars/token guess.
func estimateContext(msgs []api.Message) int {
	var all strings.Builder
	for _, m := range msgs {
		all.WriteString(m.Content)
		all.WriteByte('\n')
	}

	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return baseContextTokens + all.Len()/4
	}
	return baseContextTokens + len(enc.Encode(all.String(), nil, nil))
}
