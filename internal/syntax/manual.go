package syntax

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
)

// Manual is the data substituted into a manual template.
type Manual struct {
	// Module is the value agents put in the module field.
	Module       string
	ID           string
	Purpose      string
	SessionField string
	Commands     []CommandManual
}

// CommandManual describes one command. Query and Response are schema
// shapes from schema.Describe; Examples are complete rendered spans.
type CommandManual struct {
	Name     string
	Purpose  string
	Query    string
	Response string
	Examples []string
}

const defaultManual = `# Module {{.Module}}
{{.Purpose}}
{{- if .SessionField}}
Commands name their session in the {{.SessionField}} field.
{{- end}}
{{range .Commands}}
## {{.Name}}
{{.Purpose}}
query: {{.Query}}
response: {{.Response}}
{{- range .Examples}}
example:
{{.}}
{{- end}}
{{end -}}
`

// DefaultManualTemplate lays out a module manual: purpose, then each
// command's shapes and examples. Fields marked ? are optional.
var DefaultManualTemplate = template.Must(template.New("manual").Parse(defaultManual))

// ManualFor collects the manual data for a module. Examples are rendered
// verbatim through p so the agent sees spans it can copy.
func (p *Parser) ManualFor(mod *registry.ModuleDecl) (*Manual, error) {
	m := &Manual{
		Module:       mod.Command,
		ID:           mod.ID,
		Purpose:      mod.Purpose,
		SessionField: mod.SessionField,
	}
	for _, cmd := range mod.Commands {
		cm := CommandManual{
			Name:     cmd.Name,
			Purpose:  cmd.Purpose,
			Query:    schema.Describe(cmd.Query),
			Response: schema.Describe(cmd.Response),
		}
		for i, ex := range cmd.Examples {
			span, err := p.Render(ex)
			if err != nil {
				return nil, fmt.Errorf("manual %s.%s example %d: %w", mod.ID, cmd.Name, i, err)
			}
			cm.Examples = append(cm.Examples, span)
		}
		m.Commands = append(m.Commands, cm)
	}
	return m, nil
}

// RenderManual renders a module manual through tmpl, or through
// DefaultManualTemplate when tmpl is nil.
func (p *Parser) RenderManual(mod *registry.ModuleDecl, tmpl *template.Template) (string, error) {
	if tmpl == nil {
		tmpl = DefaultManualTemplate
	}
	data, err := p.ManualFor(mod)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("manual %s: %w", mod.ID, err)
	}
	return sb.String(), nil
}
