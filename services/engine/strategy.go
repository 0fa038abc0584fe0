package engine

import "time"

// StrategyKind tags which signal logic a stored strategy runs.
type StrategyKind string

const (
	KindMACrossover   StrategyKind = "ma_crossover"
	KindMeanReversion StrategyKind = "mean_reversion"
	KindGrid          StrategyKind = "grid"
	KindDCA           StrategyKind = "dca"
)

const (
	DefaultShortPeriod = 10
	DefaultLongPeriod  = 20
)

// StrategyParams carries the tunables of every kind. Only the fields of the
// descriptor's own kind are read.
type StrategyParams struct {
	ShortPeriod int                `json:"shortPeriod,omitempty"`
	LongPeriod  int                `json:"longPeriod,omitempty"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// StrategyDescriptor identifies the signal logic to evaluate. It belongs to the
// caller and is never modified by the engine.
type StrategyDescriptor struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        StrategyKind   `json:"kind"`
	Params      StrategyParams `json:"params"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// EffectiveKind treats an untagged strategy as an MA crossover, which is what
// rows stored before the kind column existed were always executed as.
func (s StrategyDescriptor) EffectiveKind() StrategyKind {
	if s.Kind == "" {
		return KindMACrossover
	}
	return s.Kind
}

// Periods returns the MA windows with defaults applied.
func (p StrategyParams) Periods() (short, long int) {
	short, long = p.ShortPeriod, p.LongPeriod
	if short == 0 {
		short = DefaultShortPeriod
	}
	if long == 0 {
		long = DefaultLongPeriod
	}
	return short, long
}
