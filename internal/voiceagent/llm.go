package voiceagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentLLMClient adapts the openai-agents-go runner to the voice turn
// machine's single-engine, full-history LLMClient contract: one
// provider per turn machine instead of a per-request engine lookup,
// since a voice session is pinned to one assistant persona.
type AgentLLMClient struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

func NewAgentLLMClient(provider agents.ModelProvider, model string, maxTokens int) *AgentLLMClient {
	return &AgentLLMClient{provider: provider, model: model, maxTokens: maxTokens}
}

// Chat flattens history into the agent SDK's single-instructions +
// single-user-message shape: the system message becomes instructions,
// and prior turns are rendered into the user message as transcript
// lines, since the SDK runner here is driven one-shot per call rather
// than with native multi-turn history.
func (c *AgentLLMClient) Chat(ctx context.Context, history []Message, onToken func(string)) (string, error) {
	instructions := ""
	var transcript strings.Builder
	for _, m := range history {
		switch m.Role {
		case "system":
			instructions = m.Content
		case "user":
			fmt.Fprintf(&transcript, "User: %s\n", m.Content)
		case "assistant":
			fmt.Fprintf(&transcript, "Assistant: %s\n", m.Content)
		}
	}

	agent := agents.New("voice-assistant").
		WithInstructions(instructions).
		WithModel(c.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(c.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   c.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, transcript.String())
	if err != nil {
		return "", fmt.Errorf("llm stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		if raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if onToken != nil {
			onToken(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("llm stream: %w", streamErr)
	}

	return textBuf.String(), nil
}
