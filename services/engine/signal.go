package engine

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a trade decision for one candle.
type Signal struct {
	Action     Action  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

var hold = Signal{Action: ActionHold}

// SignalFunc evaluates a series at index. Implementations must be pure and
// only look at candles up to and including index.
type SignalFunc func(series []Candle, index int) Signal

// ResolveSignalFunc dispatches on the strategy kind. Kinds without an
// implementation are rejected instead of silently running another strategy.
func ResolveSignalFunc(s StrategyDescriptor) (SignalFunc, error) {
	switch kind := s.EffectiveKind(); kind {
	case KindMACrossover:
		short, long := s.Params.Periods()
		if short <= 0 || long <= 0 || short >= long {
			return nil, ErrInvalidStrategy.WithDetails("ma_crossover needs 0 < shortPeriod < longPeriod, got %d/%d", short, long)
		}
		return maCrossover(short, long), nil
	case KindMeanReversion, KindGrid, KindDCA:
		return nil, ErrInvalidStrategy.WithDetails("strategy kind %q is not supported by the backtester", kind)
	default:
		return nil, ErrInvalidStrategy.WithDetails("unknown strategy kind %q", kind)
	}
}

// Evaluate returns the signal of strategy s at index. A strategy that cannot be
// resolved always holds. It resolves s on every call; loops over a series should
// resolve once with ResolveSignalFunc and call the returned SignalFunc.
func Evaluate(s StrategyDescriptor, series []Candle, index int) Signal {
	fn, err := ResolveSignalFunc(s)
	if err != nil {
		return Signal{Action: ActionHold, Reason: err.Error()}
	}
	return fn(series, index)
}

// maCrossover emits BUY when the short SMA crosses above the long SMA and SELL
// when it crosses below. The pre-crossing side is inclusive, the post-crossing
// side strict.
func maCrossover(shortPeriod, longPeriod int) SignalFunc {
	return func(series []Candle, index int) Signal {
		if index < longPeriod || index >= len(series) {
			return hold
		}
		shortMA, _ := SMAAt(series, index, shortPeriod)
		longMA, _ := SMAAt(series, index, longPeriod)
		prevShortMA, _ := SMAAt(series, index-1, shortPeriod)
		prevLongMA, _ := SMAAt(series, index-1, longPeriod)

		if prevShortMA <= prevLongMA && shortMA > longMA {
			return Signal{Action: ActionBuy, Reason: "Short MA crossed above Long MA", Confidence: 0.7}
		}
		if prevShortMA >= prevLongMA && shortMA < longMA {
			return Signal{Action: ActionSell, Reason: "Short MA crossed below Long MA", Confidence: 0.7}
		}
		return hold
	}
}
