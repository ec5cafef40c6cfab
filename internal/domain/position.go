package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Position is an open spot holding acquired through the bot.
// A symbol is present in the store only while Quantity > 0.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	TakeProfit    float64   `json:"tp_price"`
	StopLoss      float64   `json:"sl_price"`
	ManualTargets bool      `json:"manual_targets,omitempty"` // TP/SL set by an operator, kept on later buys
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Positions maps symbol -> open position.
type Positions map[string]*Position

func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for symbol, pos := range p {
		cp := *pos
		out[symbol] = &cp
	}
	return out
}

// Symbols returns the held symbols in sorted order.
func (p Positions) Symbols() []string {
	out := make([]string, 0, len(p))
	for symbol := range p {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// TradeRecord is an immutable ledger entry for one filled order.
type TradeRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Reason    string    `json:"reason,omitempty"`
}

// UnmarshalJSON also accepts timestamps without a zone offset, as older
// ledgers wrote them. Those are taken as local time.
func (t *TradeRecord) UnmarshalJSON(data []byte) error {
	type plain TradeRecord
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := ParseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}

// ParseTimestamp parses RFC 3339 or a naive ISO-8601 date-time in local time.
// An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// Trade reasons. Diagnostic only.
const (
	ReasonStrategy   = "STRATEGY"
	ReasonTakeProfit = "TP_TRIGGER"
	ReasonStopLoss   = "SL_TRIGGER"
	ReasonManual     = "MANUAL"
	ReasonCloseAll   = "CLOSE_ALL"
)
