// Package config loads and exposes the hierarchical provider configuration
// tree (spec §3, §4.3). It generalizes the teacher's flat koanf-based YAML
// loader into a recursive node tree, and swaps the teacher's YAML parser
// for TOML per spec §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Kind is the ProviderKind tagged variant (spec §3): it selects the wire
// dialect, never the network host.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// ParseKind parses a case-insensitive provider kind literal.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "openai":
		return KindOpenAI, true
	case "anthropic":
		return KindAnthropic, true
	default:
		return "", false
	}
}

// DefaultTimeoutSecs is the timeout applied when no level in the tree
// specifies one (spec §3 invariant 4).
const DefaultTimeoutSecs = 60

// DefaultHost and DefaultPort are the gateway's bind defaults (spec §6).
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8848
)

// Node is one node in the hierarchical provider tree (spec §3
// ConfigNode). Children are keyed case-insensitively; Name preserves the
// node's own original-case path segment for reporting and enumeration.
type Node struct {
	Name        string
	Type        *Kind
	APIBase     string
	APIKey      string
	Model       string
	MaxTokens   *int
	TimeoutSecs *int
	Default     string
	Children    map[string]*Node
}

func newNode(name string) *Node {
	return &Node{Name: name, Children: make(map[string]*Node)}
}

// Child looks up an immediate child by case-insensitive name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.Children[strings.ToLower(name)]
	return c, ok
}

// SetChild installs a child node, keyed by its lower-cased name.
func (n *Node) SetChild(name string, c *Node) {
	n.Children[strings.ToLower(name)] = c
}

// Config is the top-level gateway + provider-tree configuration.
type Config struct {
	Host     string
	Port     int
	LogLevel string

	// Root is the provider tree: its immediate children are conventionally
	// (but not necessarily) named after a ProviderKind literal, e.g.
	// "openai" or "anthropic" (spec §3 ModelReference qualified form).
	Root *Node
}

// Options configures a single Load call.
type Options struct {
	// LocalPath is the project-local config file. Defaults to
	// "./config.toml".
	LocalPath string
	// UserPath is the user-level config file. Defaults to
	// "~/.emx/config.toml".
	UserPath string
	// Overrides are explicit runtime overrides (single-call arguments),
	// the highest-precedence source. Keys are dotted paths relative to
	// the provider root, e.g. "anthropic.api_key" or
	// "anthropic.glm.glm-5.model".
	Overrides map[string]string
}

var legacyEnvMap = map[string]string{
	"OPENAI_API_KEY":       "openai.api_key",
	"OPENAI_API_BASE":      "openai.api_base",
	"ANTHROPIC_AUTH_TOKEN": "anthropic.api_key",
	"ANTHROPIC_BASE_URL":   "anthropic.api_base",
}

// knownLeafSuffixes lists the recognized leaf key names, used to split an
// EMX_LLM_<PATH>_<KEY> env var name into its PATH and KEY parts. Longer,
// underscore-containing suffixes are checked first so e.g. "MAX_TOKENS"
// isn't mistaken for a path segment ending in "_TOKENS".
var knownLeafSuffixes = []string{
	"MAX_TOKENS", "TIMEOUT_SECS", "API_BASE", "API_KEY", "DEFAULT", "MODEL", "TYPE",
}

// Load builds a Config by layering, highest precedence first: explicit
// overrides, process environment, local file, user file, built-in
// defaults (spec §4.3). The merge is key-wise at the leaf — a
// higher-precedence source overriding one key never clobbers siblings.
func Load(opts Options) (*Config, error) {
	_ = godotenv.Load()

	if opts.LocalPath == "" {
		opts.LocalPath = "./config.toml"
	}
	if opts.UserPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.UserPath = filepath.Join(home, ".emx", "config.toml")
		}
	}

	k := koanf.New(".")

	// 1. Built-in defaults (lowest precedence).
	defaults := map[string]interface{}{
		"llm.host": DefaultHost,
		"llm.port": DefaultPort,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}

	// 2. User file.
	if opts.UserPath != "" {
		if err := loadOptionalFile(k, opts.UserPath); err != nil {
			return nil, err
		}
	}

	// 3. Local file.
	if err := loadOptionalFile(k, opts.LocalPath); err != nil {
		return nil, err
	}

	// 4. Process environment.
	envOverlay := buildEnvOverlay()
	if len(envOverlay) > 0 {
		if err := k.Load(confmap.Provider(envOverlay, "."), nil); err != nil {
			return nil, fmt.Errorf("loading env vars: %w", err)
		}
	}

	// 5. Explicit runtime overrides (highest precedence).
	if len(opts.Overrides) > 0 {
		overlay := make(map[string]interface{}, len(opts.Overrides))
		for path, val := range opts.Overrides {
			overlay["llm.provider."+path] = val
		}
		if err := k.Load(confmap.Provider(overlay, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	cfg := &Config{
		Host:     k.String("llm.host"),
		Port:     k.Int("llm.port"),
		LogLevel: k.String("llm.log_level"),
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	providerRaw := k.Get("llm.provider")
	raw, _ := providerRaw.(map[string]interface{})
	root, err := buildNode("", raw)
	if err != nil {
		return nil, err
	}
	cfg.Root = root

	return cfg, nil
}

// loadOptionalFile loads a TOML file into k, silently skipping it if it
// doesn't exist. Malformed syntax is a hard error (spec §4.3).
func loadOptionalFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config file %s: %w", path, err)
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return fmt.Errorf("loading config file %s: %w", path, err)
	}
	return nil
}

// buildEnvOverlay scans the process environment for EMX_LLM_<PATH>_<KEY>
// and legacy OPENAI_*/ANTHROPIC_* variables, and returns a koanf-ready
// dotted-key overlay. EMX_LLM_HOST and EMX_LLM_PORT are handled
// separately (gateway bind, not the provider tree).
func buildEnvOverlay() map[string]interface{} {
	overlay := make(map[string]interface{})

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}

		if target, ok := legacyEnvMap[name]; ok {
			overlay["llm.provider."+target] = value
			continue
		}

		if !strings.HasPrefix(name, "EMX_LLM_") {
			continue
		}
		rest := strings.TrimPrefix(name, "EMX_LLM_")
		if rest == "HOST" {
			overlay["llm.host"] = value
			continue
		}
		if rest == "PORT" {
			overlay["llm.port"] = value
			continue
		}

		path, key, ok := splitPathAndKey(rest)
		if !ok {
			continue
		}
		dottedPath := strings.ToLower(strings.ReplaceAll(path, "_", "."))
		overlay["llm.provider."+dottedPath+"."+strings.ToLower(key)] = value
	}

	return overlay
}

// splitPathAndKey splits an EMX_LLM_ env var's remainder (after the
// prefix) into its path segment and recognized leaf key, trying each
// known suffix in order.
func splitPathAndKey(rest string) (path, key string, ok bool) {
	for _, suffix := range knownLeafSuffixes {
		if rest == suffix {
			continue // no path segment — not a valid provider-tree override
		}
		if strings.HasSuffix(rest, "_"+suffix) {
			return strings.TrimSuffix(rest, "_"+suffix), suffix, true
		}
	}
	return "", "", false
}

// buildNode recursively converts a nested map (as decoded from TOML) into
// a Node tree. Keys that aren't one of the recognized leaves and aren't a
// nested table are ignored (spec §6: "unknown keys are ignored").
func buildNode(name string, m map[string]interface{}) (*Node, error) {
	n := newNode(name)
	for key, val := range m {
		switch strings.ToLower(key) {
		case "type":
			s, _ := val.(string)
			kind, ok := ParseKind(s)
			if !ok {
				return nil, fmt.Errorf("config: node %q has invalid type %q", name, s)
			}
			n.Type = &kind
		case "api_base":
			n.APIBase, _ = val.(string)
		case "api_key":
			n.APIKey, _ = val.(string)
		case "model":
			n.Model, _ = val.(string)
		case "default":
			n.Default, _ = val.(string)
		case "max_tokens":
			if iv, err := toInt(val); err == nil {
				n.MaxTokens = &iv
			}
		case "timeout_secs":
			if iv, err := toInt(val); err == nil {
				n.TimeoutSecs = &iv
			}
		default:
			if child, ok := val.(map[string]interface{}); ok {
				childNode, err := buildNode(key, child)
				if err != nil {
					return nil, err
				}
				n.SetChild(key, childNode)
			}
		}
	}
	return n, nil
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		var iv int
		if _, err := fmt.Sscanf(t, "%d", &iv); err != nil {
			return 0, err
		}
		return iv, nil
	default:
		return 0, fmt.Errorf("config: cannot convert %T to int", v)
	}
}

// Terminals returns the dot paths (relative to the provider root) of
// every node that has a resolvable Model key — used by the gateway's
// GET /v1/models (spec §4.8).
func (n *Node) Terminals() []string {
	var out []string
	n.walk(nil, func(path []string, node *Node) {
		if node.Model != "" {
			out = append(out, strings.Join(path, "."))
		}
	})
	return out
}

// Providers returns the dot paths of every node that carries an APIBase,
// at any depth — used by the gateway's GET /v1/providers (spec §4.8).
func (n *Node) Providers() []string {
	var out []string
	n.walk(nil, func(path []string, node *Node) {
		if node.APIBase != "" {
			out = append(out, strings.Join(path, "."))
		}
	})
	return out
}

// Walk visits every non-root node in the tree (depth-first), calling fn
// with that node's full dotted path segments and the node itself. Used
// by the resolver for short-name search across the whole tree.
func (n *Node) Walk(fn func(path []string, node *Node)) {
	n.walk(nil, fn)
}

func (n *Node) walk(prefix []string, fn func(path []string, node *Node)) {
	if len(prefix) > 0 {
		fn(prefix, n)
	}
	for _, child := range n.Children {
		path := append(append([]string{}, prefix...), child.Name)
		child.walk(path, fn)
	}
}
