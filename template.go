package loom

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

// Reserved template keys. PromptKey carries the current chunk's text and
// PreviousKey the first completion of the preceding chunk, when one exists.
const (
	PromptKey   = "Prompt"
	PreviousKey = "Previous"
)

// TemplateStore resolves a template name to its blueprint text.
type TemplateStore interface {
	Lookup(name string) (string, error)
}

// Renderer fills a named template with the current chunk and user-supplied
// key/value overrides.
type Renderer struct {
	store TemplateStore
}

// NewRenderer returns a Renderer backed by the given store.
func NewRenderer(store TemplateStore) *Renderer {
	return &Renderer{store: store}
}

var templateFuncs = template.FuncMap{
	// default returns def when the piped value is empty, so templates can
	// declare fallbacks: {{.Style | default "terse"}}.
	"default": func(def, val any) any {
		if truthy(val) {
			return val
		}
		return def
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	}
	return true
}

// Render resolves name through the store, validates that every
// non-defaulted placeholder has a value, and executes the template with
// the chunk text under PromptKey. User vars win over template defaults.
func (r *Renderer) Render(name, chunkText string, vars map[string]string) (string, error) {
	text, err := r.store.Lookup(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", newError(KindInvalidConfiguration, fmt.Errorf("template %q: %w", name, err))
	}

	data := map[string]any{
		PromptKey:   chunkText,
		PreviousKey: "",
	}
	for k, v := range vars {
		data[k] = v
	}

	for _, key := range requiredKeys(tmpl.Tree.Root) {
		if _, ok := data[key]; !ok {
			return "", newError(KindMissingTemplateKey, fmt.Errorf("template %q: no value for key %q", name, key))
		}
	}
	// Optional fields (defaulted or inside conditional branches) render as
	// the empty string, never as a literal placeholder.
	for _, key := range referencedKeys(tmpl.Tree.Root) {
		if _, ok := data[key]; !ok {
			data[key] = ""
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", newError(KindInvalidConfiguration, fmt.Errorf("template %q: %w", name, err))
	}
	return sb.String(), nil
}

// requiredKeys collects the top-level field names a template references
// without a declared default. Fields guarded by if/with/range conditions,
// or wrapped in "or"/"default", are optional.
func requiredKeys(root *parse.ListNode) []string {
	return collectKeys(root, false)
}

// referencedKeys collects every top-level field name the template mentions
// anywhere, branch bodies and conditions included.
func referencedKeys(root *parse.ListNode) []string {
	return collectKeys(root, true)
}

func collectKeys(root *parse.ListNode, all bool) []string {
	seen := map[string]bool{}
	var keys []string
	var walkList func(*parse.ListNode)

	collectPipe := func(pipe *parse.PipeNode) {
		if pipe == nil || (!all && pipeHasDefault(pipe)) {
			return
		}
		for _, cmd := range pipe.Cmds {
			for _, arg := range cmd.Args {
				field, ok := arg.(*parse.FieldNode)
				if !ok || len(field.Ident) == 0 {
					continue
				}
				key := field.Ident[0]
				if !seen[key] {
					seen[key] = true
					keys = append(keys, key)
				}
			}
		}
	}

	walkList = func(list *parse.ListNode) {
		if list == nil {
			return
		}
		for _, node := range list.Nodes {
			if branch := branchOf(node); branch != nil {
				// Branch bodies only render conditionally, so their
				// fields are not required up front.
				if all {
					collectPipe(branch.Pipe)
					walkList(branch.List)
					walkList(branch.ElseList)
				}
				continue
			}
			switch n := node.(type) {
			case *parse.ActionNode:
				collectPipe(n.Pipe)
			case *parse.ListNode:
				walkList(n)
			}
		}
	}
	walkList(root)
	return keys
}

func branchOf(node parse.Node) *parse.BranchNode {
	switch n := node.(type) {
	case *parse.IfNode:
		return &n.BranchNode
	case *parse.WithNode:
		return &n.BranchNode
	case *parse.RangeNode:
		return &n.BranchNode
	}
	return nil
}

func pipeHasDefault(pipe *parse.PipeNode) bool {
	for _, cmd := range pipe.Cmds {
		if len(cmd.Args) == 0 {
			continue
		}
		if ident, ok := cmd.Args[0].(*parse.IdentifierNode); ok {
			if ident.Ident == "default" || ident.Ident == "or" {
				return true
			}
		}
	}
	return false
}
