package modules

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/schema"
	"github.com/roach88/modcall/internal/store"
	"github.com/roach88/modcall/internal/syntax"
)

type fixture struct {
	outbox   *bytes.Buffer
	kb       *store.Store
	builtins *Builtins
	d        *dispatch.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	decls, err := Declarations()
	require.NoError(t, err)
	reg, err := registry.Load(decls...)
	require.NoError(t, err)

	kb, err := store.Open(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })

	n := 0
	outbox := &bytes.Buffer{}
	parser := syntax.MustNew()
	b := New(outbox, kb, parser)
	b.Subtask = NewSubtask(WithIDs(func() string {
		n++
		return fmt.Sprintf("t-%d", n)
	}))

	d, err := dispatch.New(reg, b.Handlers(), dispatch.WithParser(parser))
	require.NoError(t, err)
	return &fixture{outbox: outbox, kb: kb, builtins: b, d: d}
}

func (f *fixture) turn(t *testing.T, values ...ir.IRObject) *dispatch.TurnResult {
	t.Helper()
	var text string
	for _, v := range values {
		span, err := f.d.Parser().Render(v)
		require.NoError(t, err)
		text += span + "\n"
	}
	res, err := f.d.Turn(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, len(values))
	return res
}

func cmd(module, command string, fields ...any) ir.IRObject {
	obj := ir.IRObject{"module": ir.IRString(module), "command": ir.IRString(command)}
	for i := 0; i+1 < len(fields); i += 2 {
		v, err := ir.FromGo(fields[i+1])
		if err != nil {
			panic(err)
		}
		obj[fields[i].(string)] = v
	}
	return obj
}

func response(t *testing.T, o dispatch.Outcome) ir.IRObject {
	t.Helper()
	require.True(t, o.OK(), "outcome: %+v", o)
	obj, ok := o.Response.(ir.IRObject)
	require.True(t, ok)
	return obj
}

func TestDeclarations(t *testing.T) {
	decls, err := Declarations()
	require.NoError(t, err)

	reg, err := registry.Load(decls...)
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	for _, id := range []string{"IO", "Subtask", "Knowledge", "Manual"} {
		_, ok := reg.Lookup(id)
		assert.True(t, ok, "module %s", id)
	}

	sub, _ := reg.Lookup("Subtask")
	assert.Equal(t, "Id", sub.SessionField)
	man, _ := reg.Lookup("Manual")
	assert.True(t, man.Reentrant)

	kn, _ := reg.Lookup("Knowledge")
	lookup, ok := kn.FindCommand("Lookup")
	require.True(t, ok)
	err = schema.Validate(lookup.Query, cmd("Knowledge", "Lookup", "query", "x", "limit", 51))
	assert.Error(t, err, "limit is bounded")
}

func TestBuiltinsCoverEveryModule(t *testing.T) {
	decls, err := Declarations()
	require.NoError(t, err)

	handlers := New(&bytes.Buffer{}, nil, syntax.MustNew()).Handlers()
	for _, d := range decls {
		assert.NotNil(t, handlers[d.ID], "handler for %s", d.ID)
	}
}

func TestIO(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t,
		cmd("IO", "AccessModule", "content", "hello"),
		cmd("IO", "AccessModule", "content", "second", "extra_info", "from the agent"),
	)
	resp := response(t, res.Outcomes[0])
	assert.Equal(t, ir.IRString("IO"), resp["target_module"])
	assert.Equal(t, ir.IRString("delivered"), resp["status"])

	assert.Equal(t, "hello\nsecond\n(from the agent)\n", f.outbox.String())
	assert.Equal(t, 2, f.builtins.IO.Sent())
}

func TestSubtaskLifecycle(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t,
		cmd("Subtask", "Open", "purpose", "summarize"),
		cmd("Subtask", "AccessModule", "Id", "t-1", "content", "first"),
		cmd("Subtask", "AccessModule", "Id", "t-1", "content", "second"),
	)
	assert.Equal(t, ir.IRString("t-1"), response(t, res.Outcomes[0])["Id"])
	assert.Equal(t, ir.IRInt(2), response(t, res.Outcomes[2])["messages"])

	purpose, messages, ok := f.builtins.Subtask.Transcript("t-1")
	require.True(t, ok)
	assert.Equal(t, "summarize", purpose)
	assert.Equal(t, []string{"first", "second"}, messages)
	assert.Equal(t, 1, f.builtins.Subtask.Active())

	res = f.turn(t,
		cmd("Subtask", "Close", "Id", "t-1"),
		cmd("Subtask", "AccessModule", "Id", "t-1", "content", "too late"),
		cmd("Subtask", "Close", "Id", "t-9"),
	)
	assert.Equal(t, ir.IRString("closed"), response(t, res.Outcomes[0])["status"])
	assert.Equal(t, dispatch.KindHandlerError, res.Outcomes[1].Kind)
	assert.Contains(t, res.Outcomes[1].Reason, "t-1")
	assert.Equal(t, dispatch.KindHandlerError, res.Outcomes[2].Kind)
	assert.Zero(t, f.builtins.Subtask.Active())
}

func TestSubtaskMissingId(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Turn(context.Background(),
		"[[command]]\nmodule: Subtask\ncommand: AccessModule\ncontent: hi\n[[/command]]")
	require.NoError(t, err)
	assert.Equal(t, dispatch.KindSchemaViolation, res.Outcomes[0].Kind)
	assert.Equal(t, "Id", res.Outcomes[0].Field)
}

func TestKnowledge(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t,
		cmd("Knowledge", "Store", "key", "user/timezone", "text", "Europe/Berlin", "tags", []any{"user"}),
		cmd("Knowledge", "Store", "key", "user/name", "text", "Ada"),
		cmd("Knowledge", "Store", "key", "user/timezone", "text", "Europe/Paris"),
		cmd("Knowledge", "Lookup", "query", "user/"),
		cmd("Knowledge", "Lookup", "query", "PARIS", "limit", 1),
	)
	assert.Equal(t, ir.IRInt(1), response(t, res.Outcomes[0])["revision"])
	assert.Equal(t, ir.IRInt(2), response(t, res.Outcomes[2])["revision"])

	all := response(t, res.Outcomes[3])["matches"].(ir.IRArray)
	require.Len(t, all, 2)
	assert.Equal(t, ir.IRString("user/name"), all[0].(ir.IRObject)["key"])
	assert.Equal(t, ir.IRString("user/timezone"), all[1].(ir.IRObject)["key"])
	assert.Equal(t, ir.IRArray{}, all[0].(ir.IRObject)["tags"])

	paris := response(t, res.Outcomes[4])["matches"].(ir.IRArray)
	require.Len(t, paris, 1)
	assert.Equal(t, ir.IRString("Europe/Paris"), paris[0].(ir.IRObject)["text"])

	res = f.turn(t,
		cmd("Knowledge", "Forget", "key", "user/name"),
		cmd("Knowledge", "Forget", "key", "user/name"),
		cmd("Knowledge", "Lookup", "query", "user/", "limit", 0),
	)
	assert.Equal(t, ir.IRBool(true), response(t, res.Outcomes[0])["forgotten"])
	assert.Equal(t, ir.IRBool(false), response(t, res.Outcomes[1])["forgotten"])
	assert.Equal(t, dispatch.KindSchemaViolation, res.Outcomes[2].Kind, "limit below 1")
	assert.Equal(t, "limit", res.Outcomes[2].Field)

	n, err := f.kb.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKnowledgeWithoutStore(t *testing.T) {
	_, err := NewKnowledge(nil).Invoke(context.Background(), cmd("Knowledge", "Forget", "key", "k"))
	assert.Error(t, err)
}

func TestManual(t *testing.T) {
	f := newFixture(t)

	res := f.turn(t,
		cmd("Manual", "Read", "target", "Knowledge"),
		cmd("Manual", "Read", "target", "Telepathy"),
	)
	text := string(response(t, res.Outcomes[0])["manual"].(ir.IRString))
	assert.Contains(t, text, "# Module Knowledge")
	assert.Contains(t, text, "## Lookup")
	assert.Contains(t, text, "limit?: <int 1..50>")
	assert.Contains(t, text, "[[command]]\nmodule: Knowledge\ncommand: Store\n")

	assert.Equal(t, dispatch.KindHandlerError, res.Outcomes[1].Kind)

	// The manual travels back to the agent inside a result span.
	fb := res.Feedback()
	results := syntax.MustNew(syntax.WithDelimiters(syntax.ResultDelimiters), syntax.WithSchemas(schema.Map())).ParseAll(fb)
	require.Len(t, results, 1)
	require.True(t, results[0].OK(), "failure: %v", results[0].Failure)
	assert.Equal(t, ir.IRString(text), results[0].Value["response"].(ir.IRObject)["manual"])
}

func TestManualOutsideDispatch(t *testing.T) {
	_, err := NewManual(syntax.MustNew()).Invoke(context.Background(), cmd("Manual", "Read", "target", "IO"))
	assert.Error(t, err)
}

func TestUnknownCommandImplementation(t *testing.T) {
	_, err := NewIO(&bytes.Buffer{}).Invoke(context.Background(), cmd("IO", "Shout"))
	assert.Error(t, err)
}
