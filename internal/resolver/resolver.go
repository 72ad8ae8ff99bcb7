// Package resolver implements the model reference resolution algorithm
// (spec §4.4): turning a short, qualified, or fully-qualified reference
// string into an EffectiveConfig by walking the provider tree built by
// internal/config. Grounded in the fallback-chain resolution found in
// the refyne-api example's llm_config_resolver.go, adapted to this
// project's tree shape and precedence rules.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/errs"
)

// EffectiveConfig is the fully-resolved, ready-to-dispatch request
// target: a dialect kind, endpoint, credential, model, and limits.
type EffectiveConfig struct {
	Kind      config.Kind
	APIBase   string
	APIKey    string
	Model     string
	MaxTokens *int
	Timeout   time.Duration

	// Path is the canonical dot path this reference resolved to, used for
	// diagnostics (String and the CLI's interactive banner).
	Path string
}

// String implements fmt.Stringer with the credential redacted, so an
// EffectiveConfig is safe to pass to a logger without a second thought.
func (e EffectiveConfig) String() string {
	return fmt.Sprintf(
		"EffectiveConfig{Path:%s Kind:%s APIBase:%s APIKey:%s Model:%s MaxTokens:%s Timeout:%s}",
		e.Path, e.Kind, e.APIBase, redactKey(e.APIKey), e.Model, maxTokensStr(e.MaxTokens), e.Timeout,
	)
}

// Redacted returns a copy of e with APIKey elided. Use this (not e
// itself) whenever an EffectiveConfig is serialized into a response
// body, error message, or anywhere outside trusted logs.
func (e EffectiveConfig) Redacted() EffectiveConfig {
	e.APIKey = redactKey(e.APIKey)
	return e
}

func redactKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 4 {
		return "***"
	}
	return k[:4] + "…"
}

func maxTokensStr(mt *int) string {
	if mt == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d", *mt)
}

// Reference is a parsed model reference: a dot-separated path, each
// segment lower-cased.
type Reference struct {
	Raw      string
	Segments []string
}

// Parse splits a reference string on '.' and rejects empty segments.
// Segments are lower-cased — the tree's own lookups are case-insensitive
// (spec §3 invariant 3), so the parsed form matches uniformly.
func Parse(raw string) (Reference, error) {
	if raw == "" {
		return Reference{}, errs.InvalidReference(raw, fmt.Errorf("reference is empty"))
	}
	parts := strings.Split(raw, ".")
	segs := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			return Reference{}, errs.InvalidReference(raw, fmt.Errorf("reference has an empty segment"))
		}
		segs[i] = strings.ToLower(p)
	}
	return Reference{Raw: raw, Segments: segs}, nil
}

// Resolve resolves raw against root, implementing all three reference
// forms (spec §4.4):
//
//   - short (1 segment): searched across the entire tree by last
//     segment name; more than one match is ambiguous.
//   - qualified (2 segments, first is a ProviderKind literal): resolved
//     as a fully-qualified path first; if no such path exists, falls
//     back to a short-name search scoped to that kind's subtree.
//   - fully-qualified (any length): walked directly, segment by
//     segment, from the tree root.
func Resolve(root *config.Node, raw string) (*EffectiveConfig, error) {
	ref, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if len(ref.Segments) == 1 {
		return resolveShort(root, ref.Segments[0], raw, nil)
	}

	path, walkErr := walkNodes(root, ref.Segments)
	if walkErr == nil {
		return materialize(path, ref.Segments, raw)
	}

	if len(ref.Segments) == 2 {
		if _, ok := config.ParseKind(ref.Segments[0]); ok {
			if sub, ok := root.Child(ref.Segments[0]); ok {
				if ec, shortErr := resolveShort(sub, ref.Segments[1], raw, ref.Segments[:1]); shortErr == nil {
					return ec, nil
				}
			}
		}
	}

	return nil, walkErr
}

// walkNodes walks segments from root, returning the chain of matched
// nodes (root itself excluded). Fails on the first missing segment.
func walkNodes(root *config.Node, segments []string) ([]*config.Node, error) {
	path := make([]*config.Node, 0, len(segments))
	cur := root
	for _, seg := range segments {
		child, ok := cur.Child(seg)
		if !ok {
			return nil, errs.ConfigNotFound(strings.Join(segments, "."))
		}
		path = append(path, child)
		cur = child
	}
	return path, nil
}

// resolveShort searches sub for every node whose last path segment
// equals name (case-insensitive). A non-empty prefix is the path of sub
// itself: it is prepended to every match's path, and sub is included in
// the inheritance chain of the match. Exactly one match resolves; zero is
// not-found; more than one is ambiguous.
func resolveShort(sub *config.Node, name, raw string, prefix []string) (*EffectiveConfig, error) {
	type match struct {
		path []string
		node *config.Node
	}
	var matches []match
	sub.Walk(func(path []string, node *config.Node) {
		if strings.EqualFold(path[len(path)-1], name) {
			full := append(append([]string{}, prefix...), path...)
			matches = append(matches, match{path: full, node: node})
		}
	})

	switch len(matches) {
	case 0:
		return nil, errs.ConfigNotFound(raw)
	case 1:
		m := matches[0]
		chain, err := walkNodes(sub, m.path[len(prefix):])
		if err != nil {
			return nil, err
		}
		if len(prefix) > 0 {
			// sub is the node prefix names, so it is an ancestor whose
			// keys the match inherits.
			chain = append([]*config.Node{sub}, chain...)
		}
		return materialize(chain, m.path, raw)
	default:
		var candidates []string
		for _, m := range matches {
			candidates = append(candidates, strings.Join(m.path, "."))
		}
		return nil, errs.AmbiguousReference(raw, candidates)
	}
}

// materialize climbs path from its deepest node back toward the root,
// collecting each key the first time it's seen — a key set deeper in
// the tree always wins over the same key set higher up (spec §3
// invariant 2). seg0 supplies the default kind hint when no node on the
// path sets Type explicitly.
func materialize(path []*config.Node, segments []string, raw string) (*EffectiveConfig, error) {
	var kind *config.Kind
	var apiBase, apiKey, model string
	var maxTokens *int
	var timeoutSecs *int

	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if kind == nil && n.Type != nil {
			kind = n.Type
		}
		if apiBase == "" && n.APIBase != "" {
			apiBase = n.APIBase
		}
		if apiKey == "" && n.APIKey != "" {
			apiKey = n.APIKey
		}
		if model == "" && n.Model != "" {
			model = n.Model
		}
		if maxTokens == nil && n.MaxTokens != nil {
			maxTokens = n.MaxTokens
		}
		if timeoutSecs == nil && n.TimeoutSecs != nil {
			timeoutSecs = n.TimeoutSecs
		}
	}

	if kind == nil {
		if k, ok := config.ParseKind(segments[0]); ok {
			kind = &k
		}
	}
	if kind == nil {
		return nil, errs.ConfigIncomplete(raw, "type")
	}
	if apiBase == "" {
		return nil, errs.ConfigIncomplete(raw, "api_base")
	}
	if apiKey == "" {
		return nil, errs.ConfigIncomplete(raw, "api_key")
	}
	if model == "" {
		return nil, errs.ConfigIncomplete(raw, "model")
	}

	timeout := config.DefaultTimeoutSecs
	if timeoutSecs != nil {
		timeout = *timeoutSecs
	}

	return &EffectiveConfig{
		Kind:      *kind,
		APIBase:   apiBase,
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: maxTokens,
		Timeout:   time.Duration(timeout) * time.Second,
		Path:      strings.Join(segments, "."),
	}, nil
}
