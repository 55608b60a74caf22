// Package runner dispatches the embarrassingly parallel units of the study.
// One unit is a (scenario, replicate) pair; units share no mutable state
// and a failed unit never aborts its siblings.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Unit is one independent work item.
type Unit struct {
	Scenario  int
	Replicate int
}

func (u Unit) String() string {
	return fmt.Sprintf("scen_%d/sim_%d", u.Scenario, u.Replicate)
}

// Result reports the outcome of one unit.
type Result struct {
	Unit     Unit
	Err      error // nil on success
	Attempts int
	Elapsed  time.Duration
}

// Func executes one unit. It must be safe to call concurrently with other
// units and must be idempotent, since failed units are retried.
type Func func(ctx context.Context, unit Unit) error

// Pool runs units with bounded concurrency. Each unit gets one retry
// before being marked failed.
type Pool struct {
	workers int
	log     *slog.Logger
}

// New creates a pool. Panics on a non-positive worker count.
func New(workers int, log *slog.Logger) *Pool {
	if workers < 1 {
		panic("worker count must be positive")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{workers: workers, log: log}
}

// Run executes all units and returns one result per unit, in completion
// order. A canceled context stops dispatching new units; already running
// units see the cancellation through their own context. Run itself never
// fails: per-unit errors live in the results.
func (p *Pool) Run(ctx context.Context, units []Unit, fn Func) []Result {
	jobs := make(chan Unit)
	results := make(chan Result)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				results <- p.runUnit(ctx, unit, fn)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, unit := range units {
			select {
			case jobs <- unit:
			case <-ctx.Done():
				// Remaining units are reported as canceled without
				// being attempted.
				for _, rest := range remaining(units, unit) {
					results <- Result{Unit: rest, Err: ctx.Err()}
				}
				results <- Result{Unit: unit, Err: ctx.Err()}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]Result, 0, len(units))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

func (p *Pool) runUnit(ctx context.Context, unit Unit, fn Func) Result {
	start := time.Now()

	var err error
	attempts := 0
	for attempts < 2 {
		attempts++
		err = fn(ctx, unit)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempts < 2 {
			p.log.Warn("unit failed, retrying",
				"unit", unit.String(),
				"attempt", attempts,
				"error", err)
		}
	}

	elapsed := time.Since(start)
	if err != nil {
		p.log.Error("unit failed",
			"unit", unit.String(),
			"attempts", attempts,
			"error", err)
	} else {
		p.log.Info("unit finished",
			"unit", unit.String(),
			"attempts", attempts,
			"elapsed", elapsed)
	}

	return Result{Unit: unit, Err: err, Attempts: attempts, Elapsed: elapsed}
}

// remaining lists the units after the given one in dispatch order.
func remaining(units []Unit, current Unit) []Unit {
	for i, u := range units {
		if u == current {
			return units[i+1:]
		}
	}
	return nil
}

// Units builds the cross product of scenarios and replicate count.
func Units(scenarios []int, replicates int) []Unit {
	units := make([]Unit, 0, len(scenarios)*replicates)
	for _, s := range scenarios {
		for r := 0; r < replicates; r++ {
			units = append(units, Unit{Scenario: s, Replicate: r})
		}
	}
	return units
}
