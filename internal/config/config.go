package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FormattingConfig mirrors the power-user toggles that shape prompt assembly.
type FormattingConfig struct {
	DisableDescriptionFormatting bool   `json:"disable_description_formatting"`
	DisablePersonalityFormatting bool   `json:"disable_personality_formatting"`
	DisableScenarioFormatting    bool   `json:"disable_scenario_formatting"`
	DisableExamplesFormatting    bool   `json:"disable_examples_formatting"`
	DisableStartFormatting       bool   `json:"disable_start_formatting"`
	CustomChatSeparator          string `json:"custom_chat_separator"`
	CollapseNewlines             bool   `json:"collapse_newlines"`
	AlwaysForceName              bool   `json:"always_force_name"`
	AllowUserNameDisplay         bool   `json:"allow_user_name_display"`
	AllowCharNameDisplay         bool   `json:"allow_char_name_display"`
	PinExamples                  bool   `json:"pin_examples"`
	TokenPadding                 int    `json:"token_padding"`

	// Legacy anchors appended near the prompt tail.
	CharacterAnchor bool `json:"character_anchor"`
	StyleAnchor     bool `json:"style_anchor"`
	AnchorOrder     int  `json:"anchor_order"`
}

// InstructConfig holds instruct-mode sequences applied around prompt turns.
type InstructConfig struct {
	Enabled        bool   `json:"enabled"`
	SystemSequence string `json:"system_sequence"`
	InputSequence  string `json:"input_sequence"`
	OutputSequence string `json:"output_sequence"`
	StopSequence   string `json:"stop_sequence"`
	WrapNewlines   bool   `json:"wrap_newlines"`
}

// MultigenConfig tunes chunked pseudo-streaming for backends without
// native token streaming.
type MultigenConfig struct {
	Enabled    bool `json:"enabled"`
	FirstChunk int  `json:"first_chunk"`
	NextChunks int  `json:"next_chunks"`
}

// SamplingConfig is the shared sampling surface; each backend maps the subset
// it understands into its own payload.
type SamplingConfig struct {
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	TypicalP          float64 `json:"typical_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	RepetitionRange   int     `json:"repetition_penalty_range"`
	MaxContext        int     `json:"max_context"`
	ResponseLength    int     `json:"response_length"`
	Seed              int     `json:"seed"`
	SingleLine        bool    `json:"single_line"`
}

// BackendConfig identifies and parameterizes one reachable backend.
type BackendConfig struct {
	BaseURL      string `json:"base_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	Model        string `json:"model,omitempty"`
	Streaming    bool   `json:"streaming"`
	StreamingURL string `json:"streaming_url,omitempty"`
	NovelTier    int    `json:"novel_tier,omitempty"`
}

// Config is the persisted application configuration.
type Config struct {
	ActiveBackend string                    `json:"active_backend"`
	Backends      map[string]*BackendConfig `json:"backends"`
	Sampling      SamplingConfig            `json:"sampling"`
	Formatting    FormattingConfig          `json:"formatting"`
	Instruct      InstructConfig            `json:"instruct"`
	Multigen      MultigenConfig            `json:"multigen"`

	GroupAutoModeSeconds int `json:"group_auto_mode_seconds"`

	ServerPort int    `json:"server_port"`
	DataDir    string `json:"data_dir"`
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file,omitempty"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		ActiveBackend: "kobold",
		Backends: map[string]*BackendConfig{
			"kobold":  {BaseURL: "http://127.0.0.1:5000"},
			"textgen": {BaseURL: "http://127.0.0.1:7860"},
			"novel":   {BaseURL: "https://api.novelai.net", NovelTier: 2},
			"horde":   {BaseURL: "https://horde.koboldai.net"},
			"openai":  {Model: "gpt-4o-mini", Streaming: true},
			"claude":  {Model: "claude-3-5-sonnet-20241022", Streaming: true},
		},
		Sampling: SamplingConfig{
			Temperature:       0.7,
			TopP:              0.9,
			TopK:              0,
			TypicalP:          1.0,
			RepetitionPenalty: 1.1,
			RepetitionRange:   1024,
			MaxContext:        2048,
			ResponseLength:    250,
			Seed:              -1,
		},
		Formatting: FormattingConfig{
			AllowCharNameDisplay: false,
			AllowUserNameDisplay: false,
			TokenPadding:         64,
		},
		Multigen: MultigenConfig{
			FirstChunk: 50,
			NextChunks: 30,
		},
		GroupAutoModeSeconds: 5,
		ServerPort:           8273,
		LogLevel:             "info",
	}
}

// DefaultPath returns the platform config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "personachat", "config.json"), nil
}

// Load reads the configuration from path, creating defaults when missing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if saveErr := cfg.Save(path); saveErr != nil {
			return nil, saveErr
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Backend returns the configuration for the named backend, never nil.
func (c *Config) Backend(name string) *BackendConfig {
	if c.Backends == nil {
		c.Backends = map[string]*BackendConfig{}
	}
	if b, ok := c.Backends[name]; ok {
		return b
	}
	b := &BackendConfig{}
	c.Backends[name] = b
	return b
}

func (c *Config) normalize() {
	if c.Sampling.MaxContext <= 0 {
		c.Sampling.MaxContext = 2048
	}
	if c.Sampling.ResponseLength <= 0 {
		c.Sampling.ResponseLength = 250
	}
	if c.Multigen.FirstChunk <= 0 {
		c.Multigen.FirstChunk = 50
	}
	if c.Multigen.NextChunks <= 0 {
		c.Multigen.NextChunks = 30
	}
	if c.GroupAutoModeSeconds <= 0 {
		c.GroupAutoModeSeconds = 5
	}
	if c.ServerPort <= 0 {
		c.ServerPort = 8273
	}
}
