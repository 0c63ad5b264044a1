package vest

import (
	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
)

// variantProducer derives one stringency variant from one base forecast.
type variantProducer struct {
	key     cycle.VariantKey
	enabled func(subject.StringencyFlags) bool
	base    func(*cycle.Forecast) *onah.Period
	derive  func(onahRef) onahRef
}

var producers = []variantProducer{
	{
		key:     cycle.VariantMonthlyPrecedingOnah,
		enabled: precedingOnahEnabled,
		base:    func(f *cycle.Forecast) *onah.Period { return &f.Monthly },
		derive:  precedingOnah,
	},
	{
		key:     cycle.VariantIntervalPrecedingOnah,
		enabled: precedingOnahEnabled,
		base:    func(f *cycle.Forecast) *onah.Period { return f.Interval },
		derive:  precedingOnah,
	},
	{
		key:     cycle.VariantFixedCountPrecedingOnah,
		enabled: precedingOnahEnabled,
		base:    func(f *cycle.Forecast) *onah.Period { return &f.FixedCount },
		derive:  precedingOnah,
	},
	{
		key:     cycle.VariantFixedCountOppositeOnah,
		enabled: func(fl subject.StringencyFlags) bool { return fl.OppositeOnah },
		base:    func(f *cycle.Forecast) *onah.Period { return &f.FixedCount },
		derive:  oppositeOnah,
	},
	{
		key:     cycle.VariantFixedCountExtraDay,
		enabled: func(fl subject.StringencyFlags) bool { return fl.ExtraDay },
		base:    func(f *cycle.Forecast) *onah.Period { return &f.FixedCount },
		derive:  extraDay,
	},
}

func precedingOnahEnabled(fl subject.StringencyFlags) bool { return fl.PrecedingOnah }

// precedingOnah is the onah just before ref. A night onah is preceded by the
// day onah of the civil date it starts on.
func precedingOnah(ref onahRef) onahRef {
	if ref.isDay {
		return onahRef{date: onah.AddDays(ref.date, -1), isDay: false}
	}
	return onahRef{date: ref.date, isDay: true}
}

func oppositeOnah(ref onahRef) onahRef {
	return onahRef{date: ref.date, isDay: !ref.isDay}
}

func extraDay(ref onahRef) onahRef {
	return onahRef{date: onah.AddDays(ref.date, 1), isDay: ref.isDay}
}
