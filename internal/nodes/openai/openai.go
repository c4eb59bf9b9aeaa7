// Package openai implements the nodes.openai.chat handler against any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/core"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatConfig struct {
	Model        string   `mapstructure:"model"`
	Prompt       string   `mapstructure:"prompt"`
	SystemPrompt string   `mapstructure:"systemPrompt"`
	Temperature  *float64 `mapstructure:"temperature"`
	MaxTokens    *int     `mapstructure:"maxTokens"`
	APIKey       string   `mapstructure:"apiKey"`
}

// Wire types for the chat completions API.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Definition returns the nodes.openai.chat handler. cfg supplies the
// default key, model, endpoint, and timeout.
func Definition(cfg config.OpenAI) *bus.HandlerDef {
	return &bus.HandlerDef{
		Name:    "nodes.openai.chat",
		Version: bus.DefaultVersion,
		Params: []bus.ParamSpec{
			{Name: "model", Type: "string", Description: "Model name; defaults to the configured model"},
			{Name: "prompt", Type: "string", Required: true, Description: "User message"},
			{Name: "systemPrompt", Type: "string", Description: "System message prepended to the conversation"},
			{Name: "temperature", Type: "number", Min: f64(0), Max: f64(2)},
			{Name: "maxTokens", Type: "number", Min: f64(1)},
			{Name: "apiKey", Type: "string", Description: "Overrides the configured API key"},
		},
		Handler: func(ctx context.Context, params map[string]any, meta bus.Meta) (any, error) {
			return execute(ctx, params, cfg)
		},
	}
}

func execute(ctx context.Context, params map[string]any, defaults config.OpenAI) (any, error) {
	var cfg chatConfig
	if err := decodeConfig(params, &cfg); err != nil {
		return nil, core.Validationf("invalid openai.chat params: %v", err)
	}
	if cfg.Prompt == "" {
		return nil, core.Validationf("openai.chat requires prompt")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = defaults.APIKey
	}
	if apiKey == "" {
		return nil, core.Validationf("openai.chat requires an api key")
	}
	model := cfg.Model
	if model == "" {
		model = defaults.Model
	}
	if model == "" {
		return nil, core.Validationf("openai.chat requires model")
	}
	baseURL := strings.TrimSuffix(defaults.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var messages []chatMessage
	if cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: cfg.Prompt})

	client := resty.New()
	if defaults.Timeout > 0 {
		client.SetTimeout(defaults.Timeout)
	} else {
		client.SetTimeout(2 * time.Minute)
	}

	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(apiKey).
		SetBody(chatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}).
		Post(baseURL + "/chat/completions")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.Timeoutf("openai request timed out")
		}
		return nil, core.Executionf("openai request failed: %v", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, core.Executionf("decode openai response: %v", err)
	}
	if resp.StatusCode() >= 400 {
		msg := strings.TrimSpace(string(resp.Body()))
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, core.Executionf("openai returned status %d: %s", resp.StatusCode(), msg)
	}
	if len(decoded.Choices) == 0 {
		return nil, core.Executionf("openai response has no choices")
	}

	return map[string]any{
		"content": decoded.Choices[0].Message.Content,
		"model":   decoded.Model,
		"usage": map[string]any{
			"promptTokens":     decoded.Usage.PromptTokens,
			"completionTokens": decoded.Usage.CompletionTokens,
			"totalTokens":      decoded.Usage.TotalTokens,
		},
		"finishReason": decoded.Choices[0].FinishReason,
	}, nil
}

func f64(v float64) *float64 { return &v }

func decodeConfig(dat map[string]any, cfg *chatConfig) error {
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return md.Decode(dat)
}
