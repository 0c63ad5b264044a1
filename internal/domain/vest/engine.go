// Package vest computes the forecast onot (vestot) of a cycle.
package vest

import (
	"fmt"
	"time"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
)

// FixedCountDays is the distance of the fixed-count forecast from the onah
// start: the thirtieth day, counting the start as day one.
const FixedCountDays = 29

// Engine derives forecasts from a cycle and its history. It is a pure
// function of its inputs and safe for concurrent use.
type Engine struct {
	resolver *onah.Resolver
}

func NewEngine(resolver *onah.Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Forecast computes the monthly, interval and fixed-count forecasts of c,
// plus the variants enabled by flags. preceding holds the cycles before c in
// chronological order.
func (e *Engine) Forecast(c *cycle.Cycle, preceding []*cycle.Cycle, loc onah.Location, flags subject.StringencyFlags) (*cycle.Forecast, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	isDay, err := e.resolver.Classify(c.OnahStart, c.OnahEnd, loc)
	if err != nil {
		return nil, err
	}
	start, err := e.resolver.CivilDateOf(c.OnahStart, loc)
	if err != nil {
		return nil, err
	}

	f := &cycle.Forecast{}

	label, err := e.resolver.Label(c.OnahStart, loc)
	if err != nil {
		return nil, fmt.Errorf("label of cycle %d: %w", c.ID, err)
	}
	next, err := e.resolver.AddLunarMonths(label, 1)
	if err != nil {
		return nil, fmt.Errorf("advance %s by one month: %w", label, err)
	}
	if f.Monthly, err = e.resolver.ResolveLunar(next, loc, isDay); err != nil {
		return nil, fmt.Errorf("monthly forecast: %w", err)
	}

	if c.MeasuredInterval.Valid && len(preceding) > 0 {
		p, err := e.resolver.Resolve(onah.AddDays(start, int(c.MeasuredInterval.Int32)), loc, isDay)
		if err != nil {
			return nil, fmt.Errorf("interval forecast: %w", err)
		}
		f.Interval = &p
	}

	if f.FixedCount, err = e.resolver.Resolve(onah.AddDays(start, FixedCountDays), loc, isDay); err != nil {
		return nil, fmt.Errorf("fixed-count forecast: %w", err)
	}

	if err := e.applyVariants(f, loc, flags); err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Engine) applyVariants(f *cycle.Forecast, loc onah.Location, flags subject.StringencyFlags) error {
	for _, vp := range producers {
		if !vp.enabled(flags) {
			continue
		}
		base := vp.base(f)
		if base == nil {
			continue
		}
		ref, err := e.refOf(*base, loc)
		if err != nil {
			return err
		}
		target := vp.derive(ref)
		p, err := e.resolver.Resolve(target.date, loc, target.isDay)
		if err != nil {
			return fmt.Errorf("variant %s: %w", vp.key, err)
		}
		if f.Variants == nil {
			f.Variants = make(map[cycle.VariantKey]onah.Period)
		}
		f.Variants[vp.key] = p
	}
	return nil
}

func (e *Engine) refOf(p onah.Period, loc onah.Location) (onahRef, error) {
	isDay, err := e.resolver.Classify(p.Start, p.End, loc)
	if err != nil {
		return onahRef{}, err
	}
	date, err := e.resolver.CivilDateOf(p.Start, loc)
	if err != nil {
		return onahRef{}, err
	}
	return onahRef{date: date, isDay: isDay}, nil
}

// onahRef identifies an onah by the civil date it starts on.
type onahRef struct {
	date  time.Time
	isDay bool
}
