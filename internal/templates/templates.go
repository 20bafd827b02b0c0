// Package templates ships the built-in workflow templates. Each template is
// a YAML workflow document embedded in the binary.
package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/pkg/schema"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Summary describes a template for listing.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Steps       int    `json:"steps"`
}

// Catalog is an immutable, ID-keyed set of templates.
type Catalog struct {
	templates map[string]*schema.Workflow
}

// Builtin loads the embedded templates.
func Builtin() (*Catalog, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads every *.yaml file in fsys. The file name without extension is
// the template ID.
func Load(fsys fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	c := &Catalog{templates: make(map[string]*schema.Workflow)}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		wf, err := DecodeYAML(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		if wf.Name == "" {
			wf.Name = id
		}
		c.templates[id] = wf
	}
	return c, nil
}

// DecodeYAML decodes a YAML workflow document. Field names follow the JSON
// form of schema.Workflow.
func DecodeYAML(data []byte) (*schema.Workflow, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "workflow document does not match the workflow shape").WithCause(err)
	}
	return &wf, nil
}

// DecodeDocument decodes YAML into a generic document.
func DecodeDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "invalid YAML").WithCause(err)
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidInput, "empty workflow document")
	}
	return doc, nil
}

// List returns templates in category ("" or "all" for every category),
// sorted by ID.
func (c *Catalog) List(category string) []Summary {
	out := []Summary{}
	for id, wf := range c.templates {
		if category != "" && category != "all" && wf.Category != category {
			continue
		}
		out = append(out, Summary{
			ID:          id,
			Name:        wf.DisplayName,
			Description: wf.Description,
			Category:    wf.Category,
			Steps:       len(wf.Steps),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of template id.
func (c *Catalog) Get(id string) (*schema.Workflow, error) {
	wf, ok := c.templates[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %q not found", id)
	}
	return copyWorkflow(wf), nil
}

// Instantiate returns template id ready to define: named name (the template
// ID when empty) with overrides merged over the template's variables.
func (c *Catalog) Instantiate(id, name string, overrides map[string]any) (*schema.Workflow, error) {
	wf, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		wf.Name = name
	}
	wf.Variables = expressions.Merge(wf.Variables, overrides)
	wf.Tags = append(wf.Tags, "template:"+id)
	return wf, nil
}

func copyWorkflow(wf *schema.Workflow) *schema.Workflow {
	b, err := json.Marshal(wf)
	if err != nil {
		panic(fmt.Sprintf("templates: marshal %s: %v", wf.Name, err))
	}
	var cp schema.Workflow
	if err := json.Unmarshal(b, &cp); err != nil {
		panic(fmt.Sprintf("templates: unmarshal %s: %v", wf.Name, err))
	}
	return &cp
}
