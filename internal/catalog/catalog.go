// Package catalog holds the platform's canonical module hierarchy and the plans that
// select modules from it.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultModules is the module set of a tenant without a plan.
var DefaultModules = []string{"core"}

// Kind is the level of an entry in the module hierarchy.
type Kind string

const (
	KindModule    Kind = "module"
	KindSubmodule Kind = "submodule"
	KindComponent Kind = "component"
	KindAction    Kind = "action"
)

var kindsByDepth = []Kind{KindModule, KindSubmodule, KindComponent, KindAction}

// ErrPlanNotFound is returned when a plan code isn't in the catalog.
var ErrPlanNotFound = errors.New("plan not found")

// Node is one entry of the module hierarchy.
type Node struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Children []Node `yaml:"children"`
}

type Plan struct {
	Code    string   `yaml:"code"`
	Name    string   `yaml:"name"`
	Modules []string `yaml:"modules"`
}

type Catalog struct {
	Modules []Node `yaml:"modules"`
	Plans   []Plan `yaml:"plans"`
}

// Entry is a flattened catalog node. Code is the dotted path from the module root,
// e.g. "hr.leave.requests.approve".
type Entry struct {
	Code       string
	ParentCode string
	Kind       Kind
	Name       string
	Position   int
}

// Load decodes and validates a catalog.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool)
	for _, m := range c.Modules {
		if err := validateNode(m, 0, seen, ""); err != nil {
			return err
		}
	}
	for _, p := range c.Plans {
		if p.Code == "" {
			return errors.New("plan without code")
		}
		for _, code := range p.Modules {
			if !seen[code] {
				return fmt.Errorf("plan %s references unknown module %q", p.Code, code)
			}
		}
	}
	return nil
}

func validateNode(n Node, depth int, seen map[string]bool, prefix string) error {
	if n.Code == "" || strings.Contains(n.Code, ".") {
		return fmt.Errorf("invalid catalog code %q under %q", n.Code, prefix)
	}
	if depth >= len(kindsByDepth) {
		return fmt.Errorf("catalog entry %s%s is nested too deeply", prefix, n.Code)
	}
	full := prefix + n.Code
	if seen[full] {
		return fmt.Errorf("duplicate catalog code %s", full)
	}
	seen[full] = true
	for _, child := range n.Children {
		if err := validateNode(child, depth+1, seen, full+"."); err != nil {
			return err
		}
	}
	return nil
}

// Plan looks up a plan by code.
func (c *Catalog) Plan(code string) (*Plan, error) {
	for i := range c.Plans {
		if c.Plans[i].Code == code {
			return &c.Plans[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, code)
}

// ModulesFor returns the ordered module codes enabled by a plan. An empty or unknown
// plan code falls back to DefaultModules.
func (c *Catalog) ModulesFor(planCode string) []string {
	if planCode == "" {
		return append([]string(nil), DefaultModules...)
	}
	plan, err := c.Plan(planCode)
	if err != nil || len(plan.Modules) == 0 {
		return append([]string(nil), DefaultModules...)
	}
	return append([]string(nil), plan.Modules...)
}

// Flatten returns the hierarchy of the given modules, parents before children.
// The core module is always included.
func (c *Catalog) Flatten(modules []string) []Entry {
	wanted := map[string]bool{"core": true}
	for _, code := range modules {
		wanted[code] = true
	}

	var entries []Entry
	for i, m := range c.Modules {
		if !wanted[m.Code] {
			continue
		}
		entries = flatten(entries, m, "", 0, i)
	}
	return entries
}

func flatten(entries []Entry, n Node, parent string, depth, position int) []Entry {
	code := n.Code
	if parent != "" {
		code = parent + "." + n.Code
	}
	entries = append(entries, Entry{
		Code:       code,
		ParentCode: parent,
		Kind:       kindsByDepth[depth],
		Name:       n.Name,
		Position:   position,
	})
	for i, child := range n.Children {
		entries = flatten(entries, child, code, depth+1, i)
	}
	return entries
}
