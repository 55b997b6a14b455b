// Package genai implements the evaluation and generation ports on Google's
// Gemini API. Condition checks and argument extraction use structured JSON
// output; reply drafting is free text bounded by the engine's constraints.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/aretw0/tiller/pkg/domain"
)

const defaultModel = "gemini-2.0-flash"

// Config holds the Gemini connection settings.
type Config struct {
	APIKey string
	// Model defaults to gemini-2.0-flash.
	Model string
	// Temperature applies to reply generation only; evaluation always runs
	// at temperature zero so verdicts stay reproducible.
	Temperature float32
}

// Client implements ports.Evaluator and ports.Generator.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

// New creates a Gemini-backed client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Client{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

type verdict struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
}

// Evaluate implements ports.Evaluator.
func (c *Client) Evaluate(ctx context.Context, condition string, snap *domain.Snapshot) (domain.Evaluation, error) {
	var sb strings.Builder
	sb.WriteString("You judge whether a condition currently holds in a customer support conversation.\n")
	writeSnapshot(&sb, snap)
	fmt.Fprintf(&sb, "\nCondition: %s\n", condition)
	sb.WriteString("\nAnswer with matched (does the condition hold right now?) and confidence in [0,1].")

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"matched":    {Type: genai.TypeBoolean},
			"confidence": {Type: genai.TypeNumber},
		},
		Required: []string{"matched", "confidence"},
	}

	raw, err := c.generateJSON(ctx, sb.String(), schema)
	if err != nil {
		return domain.Evaluation{}, err
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Evaluation{}, fmt.Errorf("malformed verdict: %w", err)
	}
	return domain.Evaluation{Matched: v.Matched, Confidence: v.Confidence}, nil
}

type extraction struct {
	Value   string `json:"value"`
	Offset  int64  `json:"offset"`
	Request int    `json:"request"`
}

// Extract implements ports.Evaluator.
func (c *Client) Extract(ctx context.Context, query domain.ExtractionQuery, snap *domain.Snapshot) ([]domain.ArgumentCandidate, error) {
	var sb strings.Builder
	sb.WriteString("You extract tool argument values that the customer stated explicitly.\n")
	writeSnapshot(&sb, snap)
	fmt.Fprintf(&sb, "\nTool: %s\nParameter: %s (%s)", query.Tool, query.Parameter.Name, query.Parameter.Type)
	if query.Parameter.Description != "" {
		fmt.Fprintf(&sb, " - %s", query.Parameter.Description)
	}
	if len(query.Parameter.Enum) > 0 {
		fmt.Fprintf(&sb, "\nAllowed values: %s", strings.Join(query.Parameter.Enum, ", "))
	}
	sb.WriteString("\n\nList every value the customer explicitly stated for this parameter, with the offset of the message it came from. ")
	sb.WriteString("If one message asks for several independent things, number them with request starting at 0. ")
	sb.WriteString("Never infer or guess a value; an empty list is the correct answer when the customer did not say it.")

	schema := &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"value":   {Type: genai.TypeString},
				"offset":  {Type: genai.TypeInteger},
				"request": {Type: genai.TypeInteger},
			},
			Required: []string{"value", "offset"},
		},
	}

	raw, err := c.generateJSON(ctx, sb.String(), schema)
	if err != nil {
		return nil, err
	}
	var items []extraction
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("malformed extraction: %w", err)
	}

	candidates := make([]domain.ArgumentCandidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, domain.ArgumentCandidate{
			Value:   coerceValue(item.Value, query.Parameter.Type),
			Offset:  item.Offset,
			Request: item.Request,
		})
	}
	return candidates, nil
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, snap *domain.Snapshot, constraints domain.GenerationConstraints) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a customer support agent. Write the next reply to the customer.\n", snap.AgentName)
	writeSnapshot(&sb, snap)

	if len(constraints.Guidelines) > 0 {
		sb.WriteString("\nFollow these instructions:\n")
		for _, g := range constraints.Guidelines {
			fmt.Fprintf(&sb, "- %s\n", g)
		}
	}
	if constraints.StepDescription != "" {
		fmt.Fprintf(&sb, "\nCurrent procedure step: %s\n", constraints.StepDescription)
	}
	if len(constraints.MissingParams) > 0 {
		fmt.Fprintf(&sb, "\nAsk the customer for: %s\n", strings.Join(constraints.MissingParams, ", "))
	}
	for _, title := range constraints.AbortedJourneys {
		fmt.Fprintf(&sb, "\nTell the customer the %q procedure cannot proceed.\n", title)
	}
	if len(constraints.Facts) > 0 {
		sb.WriteString("\nYou may only assert these facts, nothing else:\n")
		for key, value := range constraints.Facts {
			fmt.Fprintf(&sb, "- %s: %v\n", key, value)
		}
	}
	if constraints.Seed != "" {
		fmt.Fprintf(&sb, "\nStay as close as possible to this draft, adjusting only what the instructions require:\n%s\n", constraints.Seed)
	}
	sb.WriteString("\nReply with the message text only.")

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(sb.String()),
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(c.temperature),
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty generation response")
	}
	return text, nil
}

// Close releases the adapter. The SDK client holds no connection state of
// its own; the method exists so callers can tear the adapter down like the
// other backends.
func (c *Client) Close() error {
	return nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0)),
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI evaluation failed: %w", err)
	}
	return resp.Text(), nil
}

func writeSnapshot(sb *strings.Builder, snap *domain.Snapshot) {
	if len(snap.Variables) > 0 {
		sb.WriteString("\nContext:\n")
		for _, v := range snap.Variables {
			fmt.Fprintf(sb, "- %s: %v\n", v.Key, v.Value)
		}
	}
	if len(snap.Glossary) > 0 {
		sb.WriteString("\nTerms:\n")
		for _, t := range snap.Glossary {
			fmt.Fprintf(sb, "- %s: %s\n", t.Name, t.Description)
		}
	}
	if snap.CandidateDirection != "" {
		fmt.Fprintf(sb, "\nThe agent is about to: %s\n", snap.CandidateDirection)
	}

	sb.WriteString("\nConversation:\n")
	for _, ev := range snap.Transcript {
		if ev.Kind != domain.EventMessage {
			continue
		}
		data, ok := domain.AsMessageData(ev.Data)
		if !ok {
			continue
		}
		role := "Agent"
		if ev.Source == domain.SourceCustomer {
			role = "Customer"
		}
		fmt.Fprintf(sb, "[%d] %s: %s\n", ev.Offset, role, data.Text)
	}
}

// coerceValue converts the extracted string to the parameter's declared
// type; values that do not parse are passed through as strings so schema
// validation can reject them with a precise reason.
func coerceValue(raw, paramType string) any {
	switch paramType {
	case "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "integer":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}
