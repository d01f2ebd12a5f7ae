package evaluator

import (
	"context"
	"time"
)

type mockEvaluator struct{}

// NewMockEvaluator returns an evaluator that always reports an empty result,
// which pushes callers onto their local heuristic path. Useful for local
// development without API access.
func NewMockEvaluator() Evaluator { return &mockEvaluator{} }

func (m *mockEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return &Result{}, nil
}
