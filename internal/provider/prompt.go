package provider

import (
	"fmt"
	"strings"

	"github.com/avoronin/threadcast-server/internal/store"
)

// FilterDialog maps thread history to chat turns, keeping only the active
// dyad: turns authored by the current user or by the model itself. Other
// participants' turns are excluded so the prompt stays bounded to the
// conversation the model is part of.
func FilterDialog(msgs []*store.Message, currentUserID, modelID string) []ChatMessage {
	dialog := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.SenderID {
		case currentUserID:
			dialog = append(dialog, ChatMessage{Role: RoleUser, Content: m.Text})
		case modelID:
			dialog = append(dialog, ChatMessage{Role: RoleAssistant, Content: m.Text})
		}
	}
	return dialog
}

// BuildPrompt flattens chat turns into the text format the prompt type
// expects. PromptDefault has no flat form; chat-format models take the turns
// directly via StreamChat instead.
func BuildPrompt(pt store.PromptType, msgs []ChatMessage) (string, error) {
	switch pt {
	case store.PromptOpenAssistant:
		return buildOpenAssistantPrompt(msgs), nil
	case store.PromptLlama2:
		return buildLlama2Prompt(msgs), nil
	case store.PromptStarChat:
		return buildStarChatPrompt(msgs), nil
	}
	return "", fmt.Errorf("prompt type %q has no flat prompt form", pt)
}

// CompletionPrompt wraps a single user text for a completion model. The
// OpenAssistant models expect their dialog markers even for one-shot input.
func CompletionPrompt(userText, modelID string) string {
	if strings.HasPrefix(modelID, "OpenAssistant/") {
		return "<|prompter|>" + userText + "<|endoftext|><|assistant|>"
	}
	return userText
}

func buildOpenAssistantPrompt(msgs []ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == RoleUser {
			b.WriteString("<|prompter|>")
		} else {
			b.WriteString("<|assistant|>")
		}
		b.WriteString(m.Content)
		b.WriteString("<|endoftext|>")
	}
	b.WriteString("<|assistant|>")
	return b.String()
}

func buildLlama2Prompt(msgs []ChatMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if m.Role == RoleUser {
			if i > 0 {
				b.WriteString("<s>")
			}
			b.WriteString("[INST] ")
			b.WriteString(m.Content)
			b.WriteString(" [/INST]")
		} else {
			b.WriteString(" ")
			b.WriteString(m.Content)
			b.WriteString(" </s>")
		}
	}
	return b.String()
}

func buildStarChatPrompt(msgs []ChatMessage) string {
	var b strings.Builder
	b.WriteString("<|system|>\n<|end|>\n")
	for _, m := range msgs {
		if m.Role == RoleUser {
			b.WriteString("<|user|>\n")
		} else {
			b.WriteString("<|assistant|>\n")
		}
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}
