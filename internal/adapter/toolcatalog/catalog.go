// Package toolcatalog is the lookup table of tools the backend may report
// during a stream. It only describes tools; it never runs them.
package toolcatalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// Catalog implements domain.ToolCatalog.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]domain.ToolCatalogEntry
	schemas map[string]*jsonschema.Schema
}

// New creates a catalog seeded with the configured entries. Every schema is
// compiled up front so a broken one is reported at startup.
func New(entries []config.ToolEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[string]domain.ToolCatalogEntry, len(entries)),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, e := range entries {
		entry := domain.ToolCatalogEntry{
			Name:        e.Name,
			Server:      e.Server,
			Category:    e.Category,
			Description: e.Description,
		}
		if s := strings.TrimSpace(e.Schema); s != "" {
			entry.Schema = json.RawMessage(s)
		}
		if err := c.Add(entry); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts or replaces an entry.
func (c *Catalog) Add(e domain.ToolCatalogEntry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: tool name is empty", domain.ErrInvalidInput)
	}
	compiled, err := compileSchema(e.Name, e.Schema)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Name] = e
	if compiled != nil {
		c.schemas[e.Name] = compiled
	} else {
		delete(c.schemas, e.Name)
	}
	return nil
}

// Lookup implements domain.ToolCatalog.
func (c *Catalog) Lookup(name string) (domain.ToolCatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// ValidateInput implements domain.ToolCatalog. An empty input counts as an
// empty object.
func (c *Catalog) ValidateInput(name, input string) error {
	c.mu.RLock()
	schema := c.schemas[name]
	c.mu.RUnlock()
	if schema == nil {
		return nil
	}

	if strings.TrimSpace(input) == "" {
		input = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(input), &v); err != nil {
		return fmt.Errorf("%w: %s: input is not JSON: %v", domain.ErrToolSchema, name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrToolSchema, name, err)
	}
	return nil
}

// Entries returns all entries sorted by server, then name.
func (c *Catalog) Entries() []domain.ToolCatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ToolCatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: add schema resource for %q: %v", domain.ErrToolSchema, name, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema for %q: %v", domain.ErrToolSchema, name, err)
	}
	return compiled, nil
}

var _ domain.ToolCatalog = (*Catalog)(nil)
