// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package sink

import (
	"context"
	"fmt"

	"github.com/cardinalhq/tablesink/internal/pipeline"
	"github.com/cardinalhq/tablesink/internal/pipeline/wkk"
)

// Expr is an opaque output expression owned by the external expression
// engine; the sink only hands it back to the Evaluator.
type Expr = any

// Column is one evaluated output column. Values has one entry per batch row
// (constants are expanded by the evaluator), unless OnlyNull is set, in which
// case the expression produced a null of lost type and the sink substitutes
// a typed all-null column of the target field's kind.
type Column struct {
	Kind     ValueKind
	Values   []any
	OnlyNull bool
}

// Evaluator is the external expression engine the sink projects batches
// through.
type Evaluator interface {
	// Open prepares the expression context before the first evaluation.
	Open(ctx context.Context) error

	// ResultKind reports the static value kind of an expression, or
	// KindUnknown when it cannot be determined before evaluation.
	ResultKind(expr Expr) ValueKind

	// Evaluate computes one output column over the batch.
	Evaluate(ctx context.Context, expr Expr, batch *pipeline.Batch) (*Column, error)

	// Close releases the expression context.
	Close(ctx context.Context)
}

// ColumnRef is the trivial projection expression: pass a source column
// through unchanged. It is what the CLI and tests use; a real query engine
// supplies richer expressions through its own Evaluator.
type ColumnRef struct {
	Column string
	Kind   ValueKind
}

// ColumnRefEvaluator evaluates ColumnRef expressions against batches.
type ColumnRefEvaluator struct{}

func (e *ColumnRefEvaluator) Open(ctx context.Context) error {
	return nil
}

func (e *ColumnRefEvaluator) Close(ctx context.Context) {}

func (e *ColumnRefEvaluator) ResultKind(expr Expr) ValueKind {
	if ref, ok := expr.(ColumnRef); ok {
		return ref.Kind
	}
	return KindUnknown
}

func (e *ColumnRefEvaluator) Evaluate(ctx context.Context, expr Expr, batch *pipeline.Batch) (*Column, error) {
	ref, ok := expr.(ColumnRef)
	if !ok {
		return nil, fmt.Errorf("sink: unsupported expression type %T", expr)
	}

	key := wkk.NewRowKey(ref.Column)
	col := &Column{Kind: ref.Kind, Values: make([]any, batch.Len())}
	allNull := true
	for i := 0; i < batch.Len(); i++ {
		v := batch.Get(i)[key]
		if v != nil {
			allNull = false
		}
		col.Values[i] = v
	}
	if allNull && batch.Len() > 0 && ref.Kind == KindUnknown {
		col.OnlyNull = true
		col.Values = nil
	}
	return col, nil
}
