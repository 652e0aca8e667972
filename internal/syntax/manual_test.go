package syntax

import (
	"testing"
	"text/template"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
)

func str() *schema.Leaf { return schema.Of(schema.KindString) }

func lit(s string) *schema.Leaf { return schema.Lit(ir.IRString(s)) }

func ioDecl() *registry.ModuleDecl {
	return &registry.ModuleDecl{
		ID:      "IO",
		Command: "IO",
		Purpose: "Deliver text to the user",
		Commands: []registry.CommandDecl{{
			Module:  "IO",
			Name:    "AccessModule",
			Purpose: "Send content to the user",
			Query: schema.Map(
				schema.Required("module", lit("IO")),
				schema.Required("command", lit("AccessModule")),
				schema.Required("content", str()),
				schema.Optional("extra_info", str()),
			),
			Response: schema.Map(
				schema.Required("target_module", str()),
				schema.Required("status", str()),
			),
			Examples: []ir.IRObject{{
				"module":  ir.IRString("IO"),
				"command": ir.IRString("AccessModule"),
				"content": ir.IRString("hello"),
			}},
		}},
	}
}

func subtaskDecl() *registry.ModuleDecl {
	return &registry.ModuleDecl{
		ID:           "Subtask",
		Command:      "Subtask",
		Purpose:      "Delegate work to a child agent",
		SessionField: "Id",
		Commands: []registry.CommandDecl{
			{
				Module:  "Subtask",
				Name:    "Open",
				Purpose: "Start a subtask",
				Query: schema.Map(
					schema.Required("module", lit("Subtask")),
					schema.Required("command", lit("Open")),
					schema.Required("purpose", str()),
				),
				Response: schema.Map(
					schema.Required("target_module", str()),
					schema.Required("Id", str()),
				),
				Examples: []ir.IRObject{{
					"module":  ir.IRString("Subtask"),
					"command": ir.IRString("Open"),
					"purpose": ir.IRString("summarize the report"),
				}},
			},
			{
				Module:  "Subtask",
				Name:    "AccessModule",
				Purpose: "Send content to a running subtask",
				Query: schema.Map(
					schema.Required("module", lit("Subtask")),
					schema.Required("command", lit("AccessModule")),
					schema.Required("Id", str()),
					schema.Required("content", str()),
				),
				Response: schema.Map(schema.Required("status", str())),
				Examples: []ir.IRObject{{
					"module":  ir.IRString("Subtask"),
					"command": ir.IRString("AccessModule"),
					"Id":      ir.IRString("t-1"),
					"content": ir.IRString("hello"),
				}},
			},
		},
	}
}

func TestRenderManualGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	p := MustNew()

	for name, mod := range map[string]*registry.ModuleDecl{
		"manual_io":      ioDecl(),
		"manual_subtask": subtaskDecl(),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := p.RenderManual(mod, nil)
			require.NoError(t, err)
			g.Assert(t, name, []byte(out))
		})
	}
}

func TestManualExamplesParseBack(t *testing.T) {
	p := MustNew()
	mod := subtaskDecl()

	data, err := p.ManualFor(mod)
	require.NoError(t, err)
	require.Len(t, data.Commands, 2)

	for i, cmd := range data.Commands {
		require.Len(t, cmd.Examples, 1)
		got := p.ParseAll(cmd.Examples[0])
		require.Len(t, got, 1)
		require.True(t, got[0].OK())
		assert.True(t, ir.Equal(mod.Commands[i].Examples[0], got[0].Value))
	}
}

func TestRenderManualCustomTemplate(t *testing.T) {
	tmpl := template.Must(template.New("brief").Parse(
		`{{.Module}}:{{range .Commands}} {{.Name}}{{end}}`))

	out, err := MustNew().RenderManual(subtaskDecl(), tmpl)
	require.NoError(t, err)
	assert.Equal(t, "Subtask: Open AccessModule", out)
}

func TestRenderManualBadExample(t *testing.T) {
	mod := ioDecl()
	mod.Commands[0].Examples = []ir.IRObject{{"command": ir.IRString("[[/command]]")}}

	_, err := MustNew().RenderManual(mod, nil)
	assert.Error(t, err)
}
