package usecase

import (
	"fmt"
	"strings"

	"readwith/internal/domain"
)

const (
	defaultBookTitle = "The Priory of the Orange Tree"
	defaultPersona   = "You are a helpful assistant knowledgeable about the book '%s'. " +
		"Engage in conversation about this book. Keep your responses concise and conversational."
	// bookTitlePlaceholder is substituted in a persona loaded from SSM.
	bookTitlePlaceholder = "{book_title}"
)

type promptContext struct {
	persona   string
	bookTitle string
}

// buildPromptMessages assembles the persona, the optional context block, the
// completed history and the new user message, in that order.
func buildPromptMessages(pc promptContext, chunks []domain.RetrievedChunk, history []domain.ChatMessage, message string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+3)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: buildPersonaPrompt(pc)})
	if block := buildContextBlock(chunks); block != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: block})
	}
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: message})
	return messages
}

func buildPersonaPrompt(pc promptContext) string {
	title := strings.TrimSpace(pc.bookTitle)
	if title == "" {
		title = defaultBookTitle
	}
	persona := strings.TrimSpace(pc.persona)
	if persona == "" {
		return fmt.Sprintf(defaultPersona, title)
	}
	return strings.ReplaceAll(persona, bookTitlePlaceholder, title)
}

// buildContextBlock returns "" when there is nothing to add.
func buildContextBlock(chunks []domain.RetrievedChunk) string {
	var parts []string
	for _, c := range chunks {
		if text := strings.TrimSpace(c.Content); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Use the following passages from the book when they help answer the reader.\n\nContext:\n")
	for i, p := range parts {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, p)
	}
	return b.String()
}
