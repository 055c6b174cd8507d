// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var groqTracer = otel.Tracer("cosmos.llm.groq")

// groqBaseURL is Groq's OpenAI-compatible endpoint.
const groqBaseURL = "https://api.groq.com/openai/v1"

// defaultGroqModel is used when neither the request nor the environment
// names a model.
const defaultGroqModel = "mixtral-8x7b-32768"

// GroqClient speaks Groq's OpenAI-compatible chat completion protocol.
type GroqClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*GroqClient)(nil)

// NewGroqClient creates a client from GROQ_API_KEY and GROQ_MODEL. The key
// falls back to a container secret file when the variable is unset.
func NewGroqClient() (*GroqClient, error) {
	apiKey := os.Getenv("GROQ_API_KEY")
	model := os.Getenv("GROQ_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/groq_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Groq API key from container secrets")
		} else {
			slog.Error("GROQ_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = defaultGroqModel
		slog.Warn("GROQ_MODEL not set, defaulting", "model", model)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = groqBaseURL

	slog.Info("Initializing Groq client", "model", model)
	return &GroqClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// resolveModel picks the request model over the configured default.
func (g *GroqClient) resolveModel(params GenerationParams) string {
	if params.Model != "" {
		return params.Model
	}
	return g.model
}

// buildRequest maps GenerationParams onto the chat completion request.
func (g *GroqClient) buildRequest(prompt string, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: g.resolveModel(params),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate implements the Client interface.
func (g *GroqClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := groqTracer.Start(ctx, "GroqClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.resolveModel(params)))

	slog.Debug("Generating text via Groq", "model", g.resolveModel(params))
	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(prompt, params))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Groq API call failed", "error", err)
		return "", &BackendUnavailableError{Backend: "groq", Err: err}
	}

	if len(resp.Choices) == 0 {
		slog.Warn("Groq returned no choices")
		return "", &BackendUnavailableError{Backend: "groq", Err: fmt.Errorf("no choices returned")}
	}
	slog.Debug("Received response from Groq", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements the Client interface.
func (g *GroqClient) GenerateStream(ctx context.Context, prompt string, params GenerationParams, callback StreamCallback) error {
	ctx, span := groqTracer.Start(ctx, "GroqClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.resolveModel(params)))

	req := g.buildRequest(prompt, params)
	req.Stream = true

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Groq stream setup failed", "error", err)
		return &BackendUnavailableError{Backend: "groq", Err: err}
	}
	defer stream.Close()

	tokens := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("llm.stream_tokens", tokens))
			return callback(StreamEvent{Type: StreamEventDone})
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			// Surface the failure in-band so the consumer sees a
			// terminated stream rather than a silent stop.
			_ = callback(StreamEvent{Type: StreamEventError, Content: err.Error()})
			return &BackendUnavailableError{Backend: "groq", Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		tokens++
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: delta}); cbErr != nil {
			// The consumer stopped pulling; abandon the stream.
			slog.Debug("Stream consumer stopped", "error", cbErr)
			return cbErr
		}
	}
}
