package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/schema"
)

func TestRenderPutsModuleAndCommandFirst(t *testing.T) {
	out, err := MustNew().Render(ir.IRObject{
		"content": ir.IRString("hello"),
		"Id":      ir.IRString("t-1"),
		"command": ir.IRString("AccessModule"),
		"module":  ir.IRString("Subtask"),
	})
	require.NoError(t, err)
	assert.Equal(t, "[[command]]\nmodule: Subtask\ncommand: AccessModule\nId: t-1\ncontent: hello\n[[/command]]", out)
}

func TestRenderKeepsFloatsFloats(t *testing.T) {
	out, err := MustNew().Render(ir.IRObject{
		"command": ir.IRString("Weigh"),
		"w":       ir.IRFloat(2),
		"n":       ir.IRInt(2),
		"s":       ir.IRString("2"),
	})
	require.NoError(t, err)
	assert.Equal(t, "[[command]]\ncommand: Weigh\nn: 2\ns: \"2\"\nw: 2.0\n[[/command]]", out)
}

func TestRenderRejects(t *testing.T) {
	p := MustNew()

	_, err := p.Render(ir.IRString("not a mapping"))
	assert.Error(t, err)

	_, err = p.Render(ir.IRObject{"command": ir.IRString("A"), "x": ir.IRString("sneaky [[/command]] close")})
	assert.Error(t, err)

	_, err = p.Render(ir.IRObject{"command": ir.IRString("A"), "x": ir.IRString("\xff")})
	assert.Error(t, err)
}

// parse(render(x)) == x for every valid command value.
func TestRoundTrip(t *testing.T) {
	values := []ir.IRObject{
		{"module": ir.IRString("IO"), "command": ir.IRString("AccessModule"), "content": ir.IRString("hello")},
		{"command": ir.IRString("Bare")},
		{"command": ir.IRString("Numbers"),
			"i": ir.IRInt(-42), "big": ir.IRInt(9007199254740993),
			"f": ir.IRFloat(2), "tiny": ir.IRFloat(1e-7), "huge": ir.IRFloat(1e21), "neg": ir.IRFloat(-0.5)},
		{"command": ir.IRString("Lookalikes"),
			"t": ir.IRString("true"), "n": ir.IRString("null"), "i": ir.IRString("123"),
			"f": ir.IRString("1.5"), "e": ir.IRString(""), "tilde": ir.IRString("~"),
			"date": ir.IRString("2024-01-01"), "inf": ir.IRString(".inf"), "merge": ir.IRString("<<")},
		{"command": ir.IRString("Shift"), "<<": ir.IRString("k")},
		{"command": ir.IRString("Punctuation"),
			"colon": ir.IRString("a: b"), "dash": ir.IRString("- item"), "hash": ir.IRString("#tag"),
			"quote": ir.IRString(`say "hi"`), "brace": ir.IRString("{x}"), "star": ir.IRString("*ref"),
			"pct": ir.IRString("%d"), "at": ir.IRString("@user"), "lead": ir.IRString("  padded  ")},
		{"command": ir.IRString("Text"),
			"multi":    ir.IRString("line one\nline two"),
			"trailing": ir.IRString("ends with newline\n"),
			"blank":    ir.IRString("a\n\nb\n\n"),
			"indent":   ir.IRString("  indented\nnext"),
			"spaces":   ir.IRString("trailing space \nnext"),
			"tab":      ir.IRString("a\tb\nc"),
			"crlf":     ir.IRString("a\r\nb"),
			"ctrl":     ir.IRString("bell\x07"),
			"unicode":  ir.IRString("caf\u00e9 \u65e5\u672c"),
			"sep":      ir.IRString("a\u2028b")},
		{"command": ir.IRString("Nested"),
			"list":  ir.IRArray{ir.IRString("a"), ir.IRInt(1), ir.IRBool(false), ir.IRFloat(0.25)},
			"empty": ir.IRArray{},
			"obj": ir.IRObject{
				"deep":  ir.IRObject{"k": ir.IRArray{ir.IRObject{"x": ir.IRInt(1)}}},
				"none":  ir.IRObject{},
				"true":  ir.IRBool(true),
				"42":    ir.IRString("numeric key"),
				"a b":   ir.IRString("spaced key"),
				"colon": ir.IRString("x:y"),
			}},
	}

	p := MustNew()
	for _, v := range values {
		t.Run(string(v["command"].(ir.IRString)), func(t *testing.T) {
			text, err := p.Render(v)
			require.NoError(t, err)

			got := p.ParseAll(text)
			require.Len(t, got, 1, "rendered: %s", text)
			require.True(t, got[0].OK(), "rendered: %s\nfailure: %v", text, got[0].Failure)
			assert.True(t, ir.Equal(v, got[0].Value), "rendered: %s\ngot: %#v", text, got[0].Value)
		})
	}
}

func TestRenderOutcomeResult(t *testing.T) {
	out, err := MustNew().RenderOutcome(Report{
		Module:   "IO",
		Command:  "AccessModule",
		Response: ir.IRObject{"target_module": ir.IRString("IO"), "status": ir.IRString("delivered")},
	})
	require.NoError(t, err)
	assert.Equal(t, "[[result]]\nmodule: IO\ncommand: AccessModule\nresponse:\n  status: delivered\n  target_module: IO\n[[/result]]", out)

	reader := MustNew(WithDelimiters(ResultDelimiters), WithSchemas(schema.Map()))
	got := reader.ParseAll(out)
	require.Len(t, got, 1)
	require.True(t, got[0].OK())
	assert.Equal(t, ir.IRString("IO"), got[0].Value["response"].(ir.IRObject)["target_module"])
}

func TestRenderOutcomeError(t *testing.T) {
	out, err := MustNew().RenderOutcome(Report{
		Kind:    "schema_violation",
		Module:  "Subtask",
		Command: "AccessModule",
		Field:   "Id",
		Reason:  "Id: missing required field, expected <string>",
	})
	require.NoError(t, err)
	assert.Equal(t, "[[error]]\nkind: schema_violation\nmodule: Subtask\ncommand: AccessModule\nfield: Id\nreason: 'Id: missing required field, expected <string>'\n[[/error]]", out)

	reader := MustNew(WithDelimiters(ErrorDelimiters), WithSchemas(schema.Map()))
	got := reader.ParseAll(out)
	require.Len(t, got, 1)
	require.True(t, got[0].OK())
	assert.Equal(t, ir.IRString("Id: missing required field, expected <string>"), got[0].Value["reason"])
}

func TestRenderOutcomeErrorOmitsUnknownModule(t *testing.T) {
	out, err := MustNew().RenderOutcome(Report{Kind: "parse_error", Reason: "empty span body"})
	require.NoError(t, err)
	assert.Equal(t, "[[error]]\nkind: parse_error\nreason: empty span body\n[[/error]]", out)
}
