package engine

// Replay simulator: one long-only position, fraction-of-cash sizing,
// proportional commission on entry and exit

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type SimConfig struct {
	Symbol               string
	Start                time.Time // timestamp of the seed equity point
	InitialCapital       float64
	PositionSizeFraction float64
	CommissionRate       float64
}

// Validate rejects out-of-range sizing inputs before any state exists.
func (c SimConfig) Validate() error {
	if math.IsNaN(c.InitialCapital) || math.IsInf(c.InitialCapital, 0) || c.InitialCapital <= 0 {
		return invalidParams("initialCapital must be > 0, got %v", c.InitialCapital)
	}
	if math.IsNaN(c.PositionSizeFraction) || c.PositionSizeFraction <= 0 || c.PositionSizeFraction > 1 {
		return invalidParams("positionSizeFraction must be in (0, 1], got %v", c.PositionSizeFraction)
	}
	if math.IsNaN(c.CommissionRate) || c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return invalidParams("commissionRate must be in [0, 1), got %v", c.CommissionRate)
	}
	return nil
}

type Simulator struct {
	cfg        SimConfig
	signal     SignalFunc
	fraction   decimal.Decimal
	commission decimal.Decimal
	state      *SimulationState
}

// NewSimulator resolves the strategy and seeds a fresh state.
func NewSimulator(cfg SimConfig, strategy StrategyDescriptor) (*Simulator, error) {
	fn, err := ResolveSignalFunc(strategy)
	if err != nil {
		return nil, err
	}
	return NewSimulatorWithSignal(cfg, fn)
}

// NewSimulatorWithSignal runs an arbitrary signal function instead of a stored strategy.
func NewSimulatorWithSignal(cfg SimConfig, fn SignalFunc) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrInvalidStrategy.WithDetails("nil signal function")
	}
	s := &Simulator{
		cfg:        cfg,
		signal:     fn,
		fraction:   decimal.NewFromFloat(cfg.PositionSizeFraction),
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		state: &SimulationState{
			Capital:    decimal.NewFromFloat(cfg.InitialCapital),
			PeakEquity: cfg.InitialCapital,
		},
	}
	s.state.recordEquity(cfg.Start, cfg.InitialCapital)
	return s, nil
}

// Run replays the whole series, force-closes any open position on the last
// candle and returns the final state. A simulator runs once.
func (s *Simulator) Run(series []Candle) *SimulationState {
	for i := range series {
		s.Step(series, i)
	}
	if len(series) > 0 && s.state.Position != nil {
		last := series[len(series)-1]
		if trade, ok := s.state.closeLong(last, s.commission, ExitEndOfData); ok {
			s.log(last.Timestamp, EventForcedClose, trade)
		}
	}
	return s.state
}

// Step processes the candle at index i: signal, ledger update, equity sample.
func (s *Simulator) Step(series []Candle, i int) {
	c := series[i]
	sig := s.signal(series, i)

	switch sig.Action {
	case ActionBuy:
		if s.state.Position != nil {
			s.state.Events.Append(Event{Ts: c.Timestamp, Type: EventSignalIgnored, Symbol: s.cfg.Symbol,
				Details: map[string]string{"action": string(sig.Action), "reason": "position already open"}})
			break
		}
		if pos, ok := s.state.openLong(c, s.fraction, s.commission); ok {
			s.state.Events.Append(Event{Ts: c.Timestamp, Type: EventPositionOpened, Symbol: s.cfg.Symbol,
				Details: map[string]string{
					"price":    pos.EntryPrice.String(),
					"quantity": pos.Quantity.String(),
					"invested": pos.InvestedAmount.String(),
					"reason":   sig.Reason,
				}})
		}
	case ActionSell:
		if trade, ok := s.state.closeLong(c, s.commission, ExitSignal); ok {
			s.log(c.Timestamp, EventPositionClosed, trade)
		}
	}

	s.state.recordEquity(c.Timestamp, s.state.markToMarket(c.Close))
}

// State exposes the working state, mainly for inspection between steps in tests.
func (s *Simulator) State() *SimulationState { return s.state }

func (s *Simulator) log(ts time.Time, t EventType, trade Trade) {
	s.state.Events.Append(Event{Ts: ts, Type: t, Symbol: s.cfg.Symbol, Details: map[string]string{
		"price": strconv.FormatFloat(trade.ExitPrice, 'f', -1, 64),
		"pnl":   strconv.FormatFloat(trade.PnL, 'f', -1, 64),
	}})
}

// Simulate is the one-shot form of NewSimulator followed by Run.
func Simulate(strategy StrategyDescriptor, series []Candle, cfg SimConfig) (*SimulationState, error) {
	sim, err := NewSimulator(cfg, strategy)
	if err != nil {
		return nil, err
	}
	return sim.Run(series), nil
}
