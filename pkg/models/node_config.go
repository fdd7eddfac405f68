package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// NodeConfig is the typed configuration owned by a node kind.
type NodeConfig interface {
	Kind() string
	Validate() error
}

// TriggerConfig configures webhook, schedule and manual triggers.
type TriggerConfig struct {
	Subtype string `json:"subtype,omitempty"`
	Method  string `json:"method,omitempty"`
	RRule   string `json:"rrule,omitempty"`
}

func (TriggerConfig) Kind() string { return TriggerKind }

func (c TriggerConfig) Validate() error {
	switch c.Method {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return fmt.Errorf("unsupported webhook method %q", c.Method)
	}
	if c.SubtypeName() == "schedule" && c.RRule == "" {
		return errors.New("schedule trigger requires an rrule")
	}
	return nil
}

// SubtypeName strips the "-trigger" suffix and defaults to "webhook".
func (c TriggerConfig) SubtypeName() string {
	sub := strings.TrimSuffix(c.Subtype, "-trigger")
	if sub == "" {
		return DefaultTriggerSubtype
	}
	return sub
}

type HTTPRequestConfig struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"` // seconds
}

func (HTTPRequestConfig) Kind() string { return HTTPRequestKind }

func (c HTTPRequestConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

type DelayConfig struct {
	Duration string `json:"duration"` // Go duration, e.g. "15m"
}

func (DelayConfig) Kind() string { return DelayKind }

func (c DelayConfig) Validate() error {
	d, err := time.ParseDuration(c.Duration)
	if err != nil {
		return errors.Wrap(err, "invalid duration")
	}
	if d <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}

type FilterConfig struct {
	Expression string `json:"expression"`
}

func (FilterConfig) Kind() string { return FilterKind }

func (c FilterConfig) Validate() error {
	if strings.TrimSpace(c.Expression) == "" {
		return errors.New("expression is required")
	}
	return nil
}

type SwitchCase struct {
	Label      string `json:"label"`
	Expression string `json:"expression"`
}

type SwitchConfig struct {
	Cases []SwitchCase `json:"cases"`
}

func (SwitchConfig) Kind() string { return SwitchKind }

func (c SwitchConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Cases))
	for _, sc := range c.Cases {
		if sc.Label == "" {
			return errors.New("switch case without label")
		}
		if _, dup := seen[sc.Label]; dup {
			return fmt.Errorf("duplicate switch case %q", sc.Label)
		}
		seen[sc.Label] = struct{}{}
	}
	return nil
}

type LoopConfig struct {
	Items         string `json:"items"`
	MaxIterations int    `json:"maxIterations,omitempty"`
}

func (LoopConfig) Kind() string { return LoopKind }

func (c LoopConfig) Validate() error {
	if c.Items == "" {
		return errors.New("items is required")
	}
	if c.MaxIterations < 0 {
		return errors.New("maxIterations cannot be negative")
	}
	return nil
}

type GenAIConfig struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
}

func (GenAIConfig) Kind() string { return GenAIKind }

func (c GenAIConfig) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be within [0, 2]")
	}
	return nil
}

type ReturnConfig struct {
	Value json.RawMessage `json:"value,omitempty"`
}

func (ReturnConfig) Kind() string   { return ReturnKind }
func (ReturnConfig) Validate() error { return nil }

type SequenceConfig struct{}

func (SequenceConfig) Kind() string   { return SequenceKind }
func (SequenceConfig) Validate() error { return nil }

type ActionConfig struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

func (ActionConfig) Kind() string { return ActionKind }

func (c ActionConfig) Validate() error {
	if c.Action == "" {
		return errors.New("action is required")
	}
	return nil
}

// GenericConfig holds the configuration of kinds without a typed schema.
type GenericConfig struct {
	NodeKind string
	Raw      json.RawMessage
}

func (c GenericConfig) Kind() string { return c.NodeKind }
func (GenericConfig) Validate() error { return nil }

// DecodeNodeConfig decodes raw into the variant owned by kind. An empty or
// null blob decodes to the zero value of that variant.
func DecodeNodeConfig(kind string, raw json.RawMessage) (NodeConfig, error) {
	var cfg NodeConfig
	switch kind {
	case TriggerKind:
		cfg = &TriggerConfig{}
	case HTTPRequestKind:
		cfg = &HTTPRequestConfig{}
	case DelayKind:
		cfg = &DelayConfig{}
	case FilterKind:
		cfg = &FilterConfig{}
	case SwitchKind:
		cfg = &SwitchConfig{}
	case LoopKind:
		cfg = &LoopConfig{}
	case GenAIKind:
		cfg = &GenAIConfig{}
	case ReturnKind:
		cfg = &ReturnConfig{}
	case SequenceKind:
		cfg = &SequenceConfig{}
	case ActionKind:
		cfg = &ActionConfig{}
	default:
		return GenericConfig{NodeKind: kind, Raw: raw}, nil
	}
	if isEmptyJSON(raw) {
		return deref(cfg), nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s config", kind)
	}
	return deref(cfg), nil
}

func deref(cfg NodeConfig) NodeConfig {
	switch c := cfg.(type) {
	case *TriggerConfig:
		return *c
	case *HTTPRequestConfig:
		return *c
	case *DelayConfig:
		return *c
	case *FilterConfig:
		return *c
	case *SwitchConfig:
		return *c
	case *LoopConfig:
		return *c
	case *GenAIConfig:
		return *c
	case *ReturnConfig:
		return *c
	case *SequenceConfig:
		return *c
	case *ActionConfig:
		return *c
	}
	return cfg
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
