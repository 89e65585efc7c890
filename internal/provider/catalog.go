package provider

import "github.com/avoronin/threadcast-server/internal/store"

// Model describes one catalog entry: a model a user can bind to a thread.
type Model struct {
	ID         string
	FullName   string
	PromptType store.PromptType
	ModelType  store.ModelType
	Options    store.ModelOptions
}

// Info is the displayable identity of a provider.
type Info struct {
	ID       ID
	FullName string
}

// Providers lists the supported vendors.
var Providers = []Info{
	{ID: OpenAI, FullName: "OpenAI"},
	{ID: Fireworks, FullName: "Fireworks.ai"},
	{ID: HuggingFace, FullName: "Hugging Face"},
}

// Models is the static per-provider model catalog.
var Models = map[ID][]Model{
	OpenAI: {
		{
			ID:         "gpt-3.5-turbo",
			FullName:   "GPT 3.5 Turbo",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
		{
			ID:         "gpt-3.5-turbo-16k",
			FullName:   "GPT 3.5 Turbo 16K",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
		{
			ID:         "gpt-4",
			FullName:   "GPT 4.0",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
		{
			ID:         "gpt-3.5-turbo-instruct",
			FullName:   "GPT 3.5 Turbo Instruct",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeCompletion,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
	},
	Fireworks: {
		{
			ID:         "accounts/fireworks/models/llama-v2-7b-chat",
			FullName:   "Llama v2 7B Chat",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
		{
			ID:         "accounts/fireworks/models/llama-v2-13b",
			FullName:   "Llama v2 13B",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeCompletion,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 20},
		},
		{
			ID:         "accounts/fireworks/models/llama-v2-70b-chat",
			FullName:   "Llama v2 70B Chat",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
		{
			ID:         "accounts/fireworks/models/llama-v2-13b-code-instruct",
			FullName:   "Llama v2 13B Code Instruct",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
		},
	},
	HuggingFace: {
		{
			ID:         "OpenAssistant/oasst-sft-4-pythia-12b-epoch-3.5",
			FullName:   "OpenAssistant Pythia 12B",
			PromptType: store.PromptOpenAssistant,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 0.9, MaxNewTokens: 250},
		},
		{
			ID:         "bigcode/starcoder",
			FullName:   "Star Coder",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeCompletion,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 0.9, MaxNewTokens: 190},
		},
		{
			ID:         "mistralai/Mistral-7B-v0.1",
			FullName:   "Mistral 7B",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeCompletion,
			Options:    store.ModelOptions{Temperature: 0.9, TopP: 0.9, MaxNewTokens: 250},
		},
	},
}

// TitleModels is the fixed per-provider model used for thread title
// generation, distinct from the conversation model.
var TitleModels = map[ID]Model{
	OpenAI: {
		ID:         "gpt-3.5-turbo-instruct",
		FullName:   "GPT 3.5 Turbo Instruct",
		PromptType: store.PromptDefault,
		ModelType:  store.ModelTypeCompletion,
		Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
	},
	Fireworks: {
		ID:         "accounts/fireworks/models/llama-v2-13b-code-instruct",
		FullName:   "Llama v2 13B Code Instruct",
		PromptType: store.PromptDefault,
		ModelType:  store.ModelTypeChat,
		Options:    store.ModelOptions{Temperature: 0.9, TopP: 1, MaxTokens: 250},
	},
	HuggingFace: {
		ID:         "OpenAssistant/oasst-sft-4-pythia-12b-epoch-3.5",
		FullName:   "OpenAssistant Pythia 12B",
		PromptType: store.PromptOpenAssistant,
		ModelType:  store.ModelTypeChat,
		Options:    store.ModelOptions{Temperature: 0.9, TopP: 0.9, MaxNewTokens: 250},
	},
}

// LookupModel finds a catalog model for a provider.
func LookupModel(provider ID, modelID string) (Model, bool) {
	for _, m := range Models[provider] {
		if m.ID == modelID {
			return m, true
		}
	}
	return Model{}, false
}

// DefaultModel returns the provider's first catalog model.
func DefaultModel(provider ID) (Model, bool) {
	models := Models[provider]
	if len(models) == 0 {
		return Model{}, false
	}
	return models[0], true
}
