// Package config parses the model configuration file of a model directory.
//
// Variant names are resolved into closed enums at parse time, so an unknown
// embedder, encoder or activation fails before any weights are read.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/lth/pure-go-elmo/internal/elmoerr"
)

// EmbedderKind selects the token embedder.
type EmbedderKind int

const (
	EmbedderCNN EmbedderKind = iota
	EmbedderLSTM
)

func (k EmbedderKind) String() string {
	switch k {
	case EmbedderCNN:
		return "cnn"
	case EmbedderLSTM:
		return "lstm"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EmbedderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EmbedderKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "cnn":
		*k = EmbedderCNN
	case "lstm":
		*k = EmbedderLSTM
	default:
		return elmoerr.Configf("unknown token_embedder.name %q", text)
	}
	return nil
}

// EncoderKind selects the contextual encoder.
type EncoderKind int

const (
	// EncoderELMo is the projected bidirectional LM stack.
	EncoderELMo EncoderKind = iota
	// EncoderLSTM is a plain bidirectional multi-layer LSTM.
	EncoderLSTM
)

func (k EncoderKind) String() string {
	switch k {
	case EncoderELMo:
		return "elmo"
	case EncoderLSTM:
		return "lstm"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EncoderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EncoderKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "elmo":
		*k = EncoderELMo
	case "lstm":
		*k = EncoderLSTM
	default:
		return elmoerr.Configf("unknown encoder.name %q", text)
	}
	return nil
}

// Activation is applied to the pooled convolution features.
type Activation int

const (
	ActivationTanh Activation = iota
	ActivationReLU
)

func (a Activation) String() string {
	switch a {
	case ActivationTanh:
		return "tanh"
	case ActivationReLU:
		return "relu"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (a Activation) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Activation) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "tanh":
		*a = ActivationTanh
	case "relu":
		*a = ActivationReLU
	default:
		return elmoerr.Configf("unknown token_embedder.activation %q", text)
	}
	return nil
}

// Filter is one character convolution: window width and output channels.
type Filter struct {
	Width    int
	Channels int
}

// UnmarshalJSON reads a filter written as a [width, channels] pair.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return elmoerr.Configf("filter %s: %v", data, err)
	}
	if len(pair) != 2 {
		return elmoerr.Configf("filter %s: want [width, channels]", data)
	}
	f.Width, f.Channels = pair[0], pair[1]
	return nil
}

// MarshalJSON writes the [width, channels] form.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{f.Width, f.Channels})
}

// CharEmbedding holds token_embedder.embedding.
type CharEmbedding struct {
	Dim int `json:"dim"`
}

// TokenEmbedder holds the token_embedder section.
type TokenEmbedder struct {
	Name                  EmbedderKind  `json:"name"`
	Embedding             CharEmbedding `json:"embedding"`
	Filters               []Filter      `json:"filters"`
	NHighway              int           `json:"n_highway"`
	Activation            Activation    `json:"activation"`
	MaxCharactersPerToken int           `json:"max_characters_per_token"`
	WordDim               int           `json:"word_dim"`
}

// NFilters is the total channel count of all filters.
func (t TokenEmbedder) NFilters() int {
	n := 0
	for _, f := range t.Filters {
		n += f.Channels
	}
	return n
}

// MaxFilterWidth is the widest convolution window.
func (t TokenEmbedder) MaxFilterWidth() int {
	w := 0
	for _, f := range t.Filters {
		if f.Width > w {
			w = f.Width
		}
	}
	return w
}

// UsesChars reports whether tokens are composed from characters.
func (t TokenEmbedder) UsesChars() bool {
	return t.Embedding.Dim > 0
}

// Encoder holds the encoder section.
type Encoder struct {
	Name          EncoderKind `json:"name"`
	ProjectionDim int         `json:"projection_dim"`
	Dim           int         `json:"dim"`
	NLayers       int         `json:"n_layers"`
	CellClip      float32     `json:"cell_clip"`
	ProjClip      float32     `json:"proj_clip"`
}

// Config is the parsed model configuration.
type Config struct {
	TokenEmbedder TokenEmbedder `json:"token_embedder"`
	Encoder       Encoder       `json:"encoder"`
	Dropout       float64       `json:"dropout"`
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		if errors.Is(err, elmoerr.ErrConfig) {
			return nil, err
		}
		return nil, elmoerr.Configf("decode configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, elmoerr.Resourcef("read configuration %s: %v", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %s", path)
	}
	return cfg, nil
}

// Validate checks sizes and cross-field constraints.
func (c *Config) Validate() error {
	te, enc := c.TokenEmbedder, c.Encoder
	switch {
	case enc.ProjectionDim <= 0:
		return elmoerr.Configf("encoder.projection_dim must be positive, got %d", enc.ProjectionDim)
	case enc.Dim <= 0:
		return elmoerr.Configf("encoder.dim must be positive, got %d", enc.Dim)
	case enc.NLayers <= 0:
		return elmoerr.Configf("encoder.n_layers must be positive, got %d", enc.NLayers)
	case enc.CellClip < 0 || enc.ProjClip < 0:
		return elmoerr.Configf("clip values must not be negative")
	case c.Dropout < 0 || c.Dropout >= 1:
		return elmoerr.Configf("dropout must be in [0, 1), got %g", c.Dropout)
	case te.Embedding.Dim < 0 || te.WordDim < 0:
		return elmoerr.Configf("embedding dimensions must not be negative")
	}

	switch te.Name {
	case EmbedderCNN:
		if !te.UsesChars() {
			return elmoerr.Configf("cnn token embedder needs token_embedder.embedding.dim > 0")
		}
		if len(te.Filters) == 0 {
			return elmoerr.Configf("cnn token embedder needs at least one filter")
		}
		for _, f := range te.Filters {
			if f.Width <= 0 || f.Channels <= 0 {
				return elmoerr.Configf("invalid filter [%d, %d]", f.Width, f.Channels)
			}
		}
		if te.NHighway < 0 {
			return elmoerr.Configf("token_embedder.n_highway must not be negative")
		}
		if te.MaxCharactersPerToken < te.MaxFilterWidth() {
			return elmoerr.Configf("max_characters_per_token %d is narrower than the widest filter %d",
				te.MaxCharactersPerToken, te.MaxFilterWidth())
		}
	case EmbedderLSTM:
		if !te.UsesChars() && te.WordDim == 0 {
			return elmoerr.Configf("lstm token embedder needs word_dim or embedding.dim")
		}
	}
	return nil
}
