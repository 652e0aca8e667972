package modules

import (
	"context"
	"fmt"

	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/store"
)

// Knowledge remembers notes across turns in a store.Store.
type Knowledge struct {
	kb *store.Store
}

// NewKnowledge creates a Knowledge module over kb.
func NewKnowledge(kb *store.Store) *Knowledge {
	return &Knowledge{kb: kb}
}

// Invoke implements dispatch.Handler.
func (k *Knowledge) Invoke(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	if k.kb == nil {
		return nil, fmt.Errorf("knowledge base is not configured")
	}
	return commands{
		"Store":  k.store,
		"Lookup": k.lookup,
		"Forget": k.forget,
	}.Invoke(ctx, query)
}

func (k *Knowledge) store(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	key, _ := query.String("key")
	text, _ := query.String("text")

	var tags []string
	if arr, ok := query["tags"].(ir.IRArray); ok {
		for _, t := range arr {
			if s, ok := t.(ir.IRString); ok {
				tags = append(tags, string(s))
			}
		}
	}

	e, err := k.kb.Put(ctx, store.Entry{Key: key, Text: text, Tags: tags})
	if err != nil {
		return nil, err
	}
	return ir.IRObject{
		"key":      ir.IRString(e.Key),
		"revision": ir.IRInt(e.Revision),
	}, nil
}

func (k *Knowledge) lookup(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	q, _ := query.String("query")
	limit := 0
	if n, ok := query["limit"].(ir.IRInt); ok {
		limit = int(n)
	}

	entries, err := k.kb.Search(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	matches := make(ir.IRArray, len(entries))
	for i, e := range entries {
		tags := make(ir.IRArray, len(e.Tags))
		for j, t := range e.Tags {
			tags[j] = ir.IRString(t)
		}
		matches[i] = ir.IRObject{
			"key":  ir.IRString(e.Key),
			"text": ir.IRString(e.Text),
			"tags": tags,
		}
	}
	return ir.IRObject{"matches": matches}, nil
}

func (k *Knowledge) forget(ctx context.Context, query ir.IRObject) (ir.IRValue, error) {
	key, _ := query.String("key")

	existed, err := k.kb.Delete(ctx, key)
	if err != nil {
		return nil, err
	}
	return ir.IRObject{
		"key":       ir.IRString(key),
		"forgotten": ir.IRBool(existed),
	}, nil
}
