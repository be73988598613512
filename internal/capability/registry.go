package capability

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamType is the JSON shape accepted for a tool argument.
type ParamType string

const (
	TypeString      ParamType = "string"
	TypeNumber      ParamType = "number"
	TypeInteger     ParamType = "integer"
	TypeBoolean     ParamType = "boolean"
	TypeStringArray ParamType = "string_array"
	TypeNumberArray ParamType = "number_array"
	TypeObjectArray ParamType = "object_array"
)

// Param describes one named tool argument.
type Param struct {
	Name        string                 `json:"name"`
	Type        ParamType              `json:"type"`
	Description string                 `json:"description,omitempty"`
	Required    bool                   `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"` // item schema for object_array
}

// ToolCard represents registry metadata for a tool.
type ToolCard struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []Param  `json:"params"`
	SideEffects []string `json:"side_effects,omitempty"`
}

// Handler executes a tool with already validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool binds a card to its handler.
type Tool struct {
	Card    ToolCard
	Handler Handler
}

var (
	// ErrUnknownTool is returned by Resolve for names outside the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments wraps schema validation failures.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Registry is the closed, immutable set of tools available to the planner.
type Registry struct {
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	catalog  []ToolCard
	checksum string
}

// NewRegistry validates tool cards, compiles their argument schemas and
// freezes the set.
func NewRegistry(tools ...Tool) (*Registry, error) {
	reg := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}
	for _, t := range tools {
		name := strings.TrimSpace(t.Card.Name)
		if name == "" {
			return nil, fmt.Errorf("tool card name is required")
		}
		if name != t.Card.Name {
			return nil, fmt.Errorf("tool %q: name has surrounding whitespace", t.Card.Name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s: handler is nil", name)
		}
		if _, dup := reg.tools[name]; dup {
			return nil, fmt.Errorf("tool %s registered twice", name)
		}
		schema, err := compileSchema(t.Card)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		reg.tools[name] = t
		reg.schemas[name] = schema
		reg.catalog = append(reg.catalog, t.Card)
	}
	sort.Slice(reg.catalog, func(i, j int) bool { return reg.catalog[i].Name < reg.catalog[j].Name })
	sum, err := catalogChecksum(reg.catalog)
	if err != nil {
		return nil, err
	}
	reg.checksum = sum
	return reg, nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	if r == nil {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Validate checks args against the named tool's schema.
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	if _, err := r.Resolve(name); err != nil {
		return err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	// round-trip so slices and ints arrive in the shapes the validator expects
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := r.schemas[name].Validate(doc); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidArguments, name, err)
	}
	return nil
}

// Catalog lists the registered cards sorted by name.
func (r *Registry) Catalog() []ToolCard {
	if r == nil {
		return nil
	}
	out := make([]ToolCard, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Names lists registered tool names sorted.
func (r *Registry) Names() []string {
	cards := r.Catalog()
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.Name
	}
	return names
}

// Checksum is a stable hash of the catalog, usable as an ETag.
func (r *Registry) Checksum() string {
	if r == nil {
		return ""
	}
	return r.checksum
}

// InputSchema renders the card's params as a JSON Schema document.
func InputSchema(tc ToolCard) map[string]interface{} {
	props := make(map[string]interface{}, len(tc.Params))
	required := make([]string, 0, len(tc.Params))
	for _, p := range tc.Params {
		props[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func paramSchema(p Param) map[string]interface{} {
	s := map[string]interface{}{}
	if p.Description != "" {
		s["description"] = p.Description
	}
	switch p.Type {
	case TypeStringArray:
		s["type"] = "array"
		s["items"] = map[string]interface{}{"type": "string"}
	case TypeNumberArray:
		s["type"] = "array"
		s["items"] = map[string]interface{}{"type": "number"}
	case TypeObjectArray:
		s["type"] = "array"
		items := p.Items
		if items == nil {
			items = map[string]interface{}{"type": "object"}
		}
		s["items"] = items
	default:
		s["type"] = string(p.Type)
	}
	if len(p.Enum) > 0 {
		enum := make([]interface{}, len(p.Enum))
		for i, v := range p.Enum {
			enum[i] = v
		}
		if p.Type == TypeStringArray {
			s["items"] = map[string]interface{}{"type": "string", "enum": enum}
		} else {
			s["enum"] = enum
		}
	}
	return s
}

func compileSchema(tc ToolCard) (*jsonschema.Schema, error) {
	seen := make(map[string]struct{}, len(tc.Params))
	for _, p := range tc.Params {
		if p.Name == "" {
			return nil, fmt.Errorf("param name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("param %s declared twice", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeStringArray, TypeNumberArray, TypeObjectArray:
		default:
			return nil, fmt.Errorf("param %s: unsupported type %q", p.Name, p.Type)
		}
	}
	raw, err := json.Marshal(InputSchema(tc))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := tc.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ComputeChecksum returns a deterministic hash of a ToolCard.
func ComputeChecksum(tc ToolCard) (string, error) {
	normalized, err := json.Marshal(tc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func catalogChecksum(cards []ToolCard) (string, error) {
	h := sha256.New()
	for _, tc := range cards {
		sum, err := ComputeChecksum(tc)
		if err != nil {
			return "", err
		}
		h.Write([]byte(sum))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
