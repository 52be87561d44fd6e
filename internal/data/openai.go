package data

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/conf"
)

const maxHistoryMessages = 20

const defaultPersonality = `Soy tu asistente personal de WhatsApp. ` +
	`Respondo de forma breve, clara y amigable, en el idioma en que me escribas. ` +
	`Puedo ayudarte con tu correo, tu calendario y preguntas generales.`

// OpenAIAgent implements conversational responses backed by the OpenAI chat
// API, with bounded per-sender history. When no API key is configured it
// degrades to a canned reply so the bridge keeps working.
type OpenAIAgent struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewOpenAIAgent creates the conversation agent. cfg.APIKey may be empty.
func NewOpenAIAgent(cfg conf.OpenAIConfig) *OpenAIAgent {
	agent := &OpenAIAgent{
		model:   cfg.Model,
		history: make(map[string][]openai.ChatCompletionMessage),
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		agent.client = openai.NewClientWithConfig(clientCfg)
	}
	return agent
}

// Configured reports whether an API key was provided.
func (a *OpenAIAgent) Configured() bool {
	return a.client != nil
}

// Personality returns the assistant personality description.
func (a *OpenAIAgent) Personality() string {
	return "🤖 Personalidad del asistente:\n\n" + defaultPersonality
}

// Respond generates a reply to the sender's message, carrying bounded
// conversation history.
func (a *OpenAIAgent) Respond(ctx context.Context, message, systemContext, sender string) (string, error) {
	if a.client == nil {
		return "🤖 El asistente de IA no está configurado. Usa los comandos disponibles (/help).", nil
	}

	a.mu.Lock()
	past := a.history[sender]
	messages := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemContext + "\n\n" + defaultPersonality,
	})
	messages = append(messages, past...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	a.mu.Unlock()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	reply := resp.Choices[0].Message.Content

	a.remember(sender,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	return reply, nil
}

// SuggestReply drafts a short reply to an email for operator approval.
func (a *OpenAIAgent) SuggestReply(ctx context.Context, sender, subject, body string) (string, error) {
	if a.client == nil {
		return "Gracias por tu mensaje. Te responderé pronto.", nil
	}

	prompt := fmt.Sprintf("Redacta una respuesta breve y profesional a este correo.\n\nDe: %s\nAsunto: %s\n\n%s",
		sender, subject, body)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: defaultPersonality},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("suggest reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("suggest reply: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ClearHistory drops the stored conversation for a sender.
func (a *OpenAIAgent) ClearHistory(sender string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.history, sender)
}

// HistorySummary returns a short description of the stored conversation.
func (a *OpenAIAgent) HistorySummary(sender string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	past := a.history[sender]
	if len(past) == 0 {
		return "📝 No hay historial de conversación."
	}

	var recent []string
	for i := len(past) - 1; i >= 0 && len(recent) < 3; i-- {
		if past[i].Role == openai.ChatMessageRoleUser {
			line := past[i].Content
			if len([]rune(line)) > 60 {
				line = string([]rune(line)[:60]) + "..."
			}
			recent = append(recent, "• "+line)
		}
	}
	return fmt.Sprintf("📝 Resumen de conversación\n\nMensajes guardados: %d\nÚltimos temas:\n%s",
		len(past), strings.Join(recent, "\n"))
}

func (a *OpenAIAgent) remember(sender string, msgs ...openai.ChatCompletionMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := append(a.history[sender], msgs...)
	if len(hist) > maxHistoryMessages {
		hist = hist[len(hist)-maxHistoryMessages:]
	}
	a.history[sender] = hist
}

var _ repo.AgentRepo = (*OpenAIAgent)(nil)
