package loom

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-3-5-sonnet-20240620",
	"ollama":    "llama3.2",
	"dummy":     "dummy",
}

// contextLimits maps backend:model regex patterns to context-window sizes.
// The key "*" is the catch-all.
var contextLimits = map[string]int{
	"*":                    4096,
	"openai:gpt-4o.*":      16384,
	"openai:gpt-3.5.*":     4096,
	"anthropic:.*sonnet.*": 8192,
}

type Config struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"modelName"`

	MaxTokens        int                `yaml:"maxTokens"`
	Temperature      float64            `yaml:"temperature"`
	TopP             float64            `yaml:"topP"`
	NCompletions     int                `yaml:"completions" mapstructure:"completions"`
	Stop             []string           `yaml:"stop"`
	FrequencyPenalty float64            `yaml:"frequencyPenalty"`
	PresencePenalty  float64            `yaml:"presencePenalty"`
	LogitBias        map[string]float64 `yaml:"logitBias"`
	Logprobs         bool               `yaml:"logprobs"`

	ChunkSize    int    `yaml:"chunkSize"`
	Template     string `yaml:"template"`
	TemplatePath string `yaml:"templatePath"`
	Format       string `yaml:"format"`

	CompletionTimeout time.Duration `yaml:"completionTimeout"`

	Debug bool `yaml:"debug"`

	OpenAIAPIKey    string `yaml:"openaiAPIKey"`
	AnthropicAPIKey string `yaml:"anthropicAPIKey"`
}

// LoadConfig loads configuration with the usual precedence:
// flags > environment (LOOM_*) > config file > defaults.
// A missing config file is not an error.
func LoadConfig(path string, stderr io.Writer, flagSet *pflag.FlagSet) (*Config, error) {
	if flagSet == nil {
		flagSet = pflag.CommandLine
	}
	cfg := &Config{}
	v := viper.New()

	setupViper(v, path)
	setupFlagNormalization(flagSet)
	setDefaults(v)

	if err := v.BindPFlags(flagSet); err != nil {
		return nil, fmt.Errorf("unable to bind flags: %w", err)
	}
	if err := handleConfigFile(v, stderr, flagSet); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := setBackendAndModel(cfg, flagSet); err != nil {
		return nil, err
	}
	logConfig(cfg, stderr, flagSet)
	return cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	v.AddConfigPath("/etc/loom/")
	v.AddConfigPath("$HOME/.loom")
	v.AddConfigPath(".")
	v.SetConfigName("config")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LOOM")
	v.AutomaticEnv()
	v.BindEnv("openaiAPIKey", "OPENAI_API_KEY")
	v.BindEnv("anthropicAPIKey", "ANTHROPIC_API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("maxTokens", 256)
	v.SetDefault("temperature", 0.9)
	v.SetDefault("topP", 1.0)
	v.SetDefault("completions", 1)
	v.SetDefault("chunkSize", 4000)
	v.SetDefault("template", "raw")
	v.SetDefault("templatePath", "~/.loom/templates")
	v.SetDefault("format", "clean")
	v.SetDefault("completionTimeout", 2*time.Minute)
}

func setupFlagNormalization(flagSet *pflag.FlagSet) {
	normalizeFunc := flagSet.GetNormalizeFunc()
	flagSet.SetNormalizeFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		result := normalizeFunc(fs, name)
		name = strings.ReplaceAll(string(result), "-", "")
		return pflag.NormalizedName(name)
	})
}

func handleConfigFile(v *viper.Viper, stderr io.Writer, flagSet *pflag.FlagSet) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if verbose, _ := flagSet.GetBool("verbose"); verbose {
				fmt.Fprintln(stderr, "loom: config file not found, using defaults")
			}
		} else {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}
	return nil
}

func setBackendAndModel(cfg *Config, flagSet *pflag.FlagSet) error {
	flagBackend, flagModel := flagSet.Lookup("backend"), flagSet.Lookup("model")
	if flagBackend == nil || flagModel == nil {
		return fmt.Errorf("flags 'backend' and 'model' must be defined")
	}

	if flagBackend.Changed {
		cfg.Backend = flagBackend.Value.String()
	} else if cfg.Backend == "" {
		cfg.Backend = flagBackend.DefValue
	}

	if flagModel.Changed {
		cfg.Model = flagModel.Value.String()
	} else if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Backend]
	}
	return nil
}

func logConfig(cfg *Config, stderr io.Writer, flagSet *pflag.FlagSet) {
	if verbose, _ := flagSet.GetBool("verbose"); verbose {
		fmt.Fprint(stderr, "loom-config: ")
		json.NewEncoder(stderr).Encode(cfg)
	}
}

// contextLimitFor returns the context-window budget for a backend:model
// pair.
func contextLimitFor(backend, model string) int {
	limit := contextLimits["*"]
	backendModel := backend + ":" + model
	for pattern, l := range contextLimits {
		if pattern == "*" {
			continue
		}
		if matched, _ := regexp.MatchString(pattern, backendModel); matched {
			limit = l
			break
		}
	}
	return limit
}

// maxTokensFor clamps the configured completion budget so the prompt plus
// the completion fit the model's context window.
func (c *Config) maxTokensFor(prompt string) int {
	limit := contextLimitFor(c.Backend, c.Model)
	available := limit - countTokens(c.Model, prompt)
	if available < 1 {
		available = 1
	}
	if c.MaxTokens <= 0 || c.MaxTokens > available {
		return available
	}
	return c.MaxTokens
}

// countTokens counts prompt tokens with the model's tokenizer when one is
// known, falling back to a bytes/4 estimate.
func countTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
