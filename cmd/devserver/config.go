package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/smartdocai/smartdoc-web-ui/internal/devserver"
	"github.com/smartdocai/smartdoc-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (devserver.LLM, error)
	titleGen(titlePrompt string, logger *slog.Logger) (devserver.TitleGenerator, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port                 string    `yaml:"port"`
	DBPath               string    `yaml:"dbPath"`
	SystemPrompt         string    `yaml:"systemPrompt"`
	TitleGeneratorPrompt string    `yaml:"titleGeneratorPrompt"`
	LLM                  llmConfig `yaml:"llm"`
	LogLevel             string    `yaml:"logLevel"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                 string         `yaml:"port"`
		DBPath               string         `yaml:"dbPath"`
		SystemPrompt         string         `yaml:"systemPrompt"`
		TitleGeneratorPrompt string         `yaml:"titleGeneratorPrompt"`
		LLM                  map[string]any `yaml:"llm"`
		LogLevel             string         `yaml:"logLevel"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.DBPath = rawConfig.DBPath
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitleGeneratorPrompt = rawConfig.TitleGeneratorPrompt
	c.LogLevel = rawConfig.LogLevel

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

func (o ollamaConfig) newOllama(systemPrompt string) (services.Ollama, error) {
	if o.Model == "" {
		return services.Ollama{}, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (devserver.LLM, error) {
	return o.newOllama(systemPrompt)
}

func (o ollamaConfig) titleGen(titlePrompt string, _ *slog.Logger) (devserver.TitleGenerator, error) {
	return o.newOllama(titlePrompt)
}

func (o openAIConfig) newOpenAI(systemPrompt string, logger *slog.Logger) (services.OpenAI, error) {
	if o.Model == "" {
		return services.OpenAI{}, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.Model, systemPrompt, logger), nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (devserver.LLM, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (o openAIConfig) titleGen(titlePrompt string, logger *slog.Logger) (devserver.TitleGenerator, error) {
	return o.newOpenAI(titlePrompt, logger)
}

func (a anthropicConfig) newAnthropic(systemPrompt string) (services.Anthropic, error) {
	if a.Model == "" {
		return services.Anthropic{}, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return services.Anthropic{}, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, systemPrompt, a.MaxTokens), nil
}

func (a anthropicConfig) llm(systemPrompt string, _ *slog.Logger) (devserver.LLM, error) {
	return a.newAnthropic(systemPrompt)
}

func (a anthropicConfig) titleGen(titlePrompt string, _ *slog.Logger) (devserver.TitleGenerator, error) {
	return a.newAnthropic(titlePrompt)
}
