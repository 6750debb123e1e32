// Package pipeline runs named stages over a slice of items, persisting run
// state after every stage and broadcasting progress events. Stages run
// strictly in order; items inside a parallel stage may interleave but the
// stage does not finish until every item has.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// StageContext carries the per-stage counters a stage function can bump.
type StageContext struct {
	retries  atomic.Int64
	dropped  atomic.Int64
	warnings chan string
}

func (c *StageContext) AddRetries(n int) { c.retries.Add(int64(n)) }
func (c *StageContext) AddDropped(n int) { c.dropped.Add(int64(n)) }

// Warn records a non-fatal degradation that surfaces on the finished run.
func (c *StageContext) Warn(format string, args ...any) {
	select {
	case c.warnings <- fmt.Sprintf(format, args...):
	default:
	}
}

// BatchFunc transforms the whole input slice at once.
type BatchFunc func(ctx context.Context, sc *StageContext, in []any) ([]any, error)

// MapFunc transforms one item. Returning nil with no error drops the item.
type MapFunc func(ctx context.Context, sc *StageContext, item any) (any, error)

// Stage is one step of a pipeline. Exactly one of Batch or Map is set; Map
// stages fan out over Workers goroutines and preserve input order.
type Stage struct {
	Name    string
	Batch   BatchFunc
	Map     MapFunc
	Workers int
}

func (s Stage) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: stage has no name", domain.ErrValidation)
	}
	if (s.Batch == nil) == (s.Map == nil) {
		return fmt.Errorf("%w: stage %s must set exactly one of Batch or Map", domain.ErrValidation, s.Name)
	}
	return nil
}
