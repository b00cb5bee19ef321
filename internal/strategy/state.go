package strategy

import (
	"errors"
	"fmt"
	"time"
)

// Phase is a state of the trading cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseTraining
	PhaseGating
	PhaseBought
	PhaseWaitingForTarget
	PhaseSelling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseTraining:
		return "Training"
	case PhaseGating:
		return "Gating"
	case PhaseBought:
		return "Bought"
	case PhaseWaitingForTarget:
		return "WaitingForTarget"
	case PhaseSelling:
		return "Selling"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeSold         Outcome = "sold"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeAborted      Outcome = "aborted"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeError        Outcome = "error"
)

// TradeState is the per-cycle position. It is reset at the start of every
// cycle.
type TradeState struct {
	Phase           Phase
	EntryPrice      float64
	PredictedHigh   float64
	ProfitTargetPct float64
	Open            float64
	Close           float64
}

// Status is a point-in-time snapshot for the status endpoint and /status.
type Status struct {
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	Mode          string    `json:"mode"`
	Phase         string    `json:"phase"`
	EntryPrice    float64   `json:"entry_price,omitempty"`
	PredictedHigh float64   `json:"predicted_high,omitempty"`
	TargetPrice   float64   `json:"target_price,omitempty"`
	Cycles        int       `json:"cycles"`
	LastOutcome   Outcome   `json:"last_outcome,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Cancelled     bool      `json:"cancelled"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Text renders the status as a chat reply.
func (s Status) Text() string {
	msg := fmt.Sprintf("%s %s (%s): %s", s.Symbol, s.Interval, s.Mode, s.Phase)
	if s.EntryPrice > 0 {
		msg += fmt.Sprintf("\nentry=%.8g predicted=%.8g target=%.8g", s.EntryPrice, s.PredictedHigh, s.TargetPrice)
	}
	if s.LastOutcome != "" {
		msg += fmt.Sprintf("\ncycles=%d last=%s", s.Cycles, s.LastOutcome)
	}
	if s.Cancelled {
		msg += "\nshutting down"
	}
	return msg
}

// OrderError is a rejected buy or sell. It stops the engine since the
// position state is unknown afterwards.
type OrderError struct {
	Side string
	Err  error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("place %s order: %v", e.Side, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// IsOrderError reports whether err carries an *OrderError.
func IsOrderError(err error) bool {
	var oe *OrderError
	return errors.As(err, &oe)
}
