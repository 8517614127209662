package execution

import (
	"errors"
	"fmt"
	"math"
	"time"

	"twstock-screener/internal/model"
)

var (
	ErrPositionOpen     = errors.New("paper: position already open")
	ErrNoPosition       = errors.New("paper: no open position")
	ErrZeroQuantity     = errors.New("paper: allocation buys zero shares")
	ErrInsufficientCash = errors.New("paper: insufficient cash")
	ErrBadPrice         = errors.New("paper: invalid reference price")
	ErrSameBarExit      = errors.New("paper: exit must be after entry")
)

// Side is the direction of a simulated fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CostModel applies proportional slippage to fill prices and a
// proportional commission to notional.
type CostModel struct {
	SlippagePct   float64
	CommissionPct float64
}

// FillPrice moves ref against the trader: buys higher, sells lower.
func (m CostModel) FillPrice(side Side, ref float64) float64 {
	if side == SideBuy {
		return ref * (1 + m.SlippagePct)
	}
	return ref * (1 - m.SlippagePct)
}

// Fee is the commission charged on notional.
func (m CostModel) Fee(notional float64) float64 {
	return notional * m.CommissionPct
}

// Fill represents a simulated execution.
type Fill struct {
	Side     Side      `json:"side"`
	Date     time.Time `json:"date"`
	RefPrice float64   `json:"ref_price"`
	Price    float64   `json:"price"` // after slippage
	Qty      int64     `json:"qty"`
	Fee      float64   `json:"fee"`
}

// PaperAccount simulates a cash account trading one instrument with at
// most one open long position. It is not safe for concurrent use.
type PaperAccount struct {
	symbol string
	costs  CostModel
	cash   float64
	pos    *model.Position
	fills  []Fill
}

// NewPaperAccount creates an account holding cash and no position.
func NewPaperAccount(symbol string, cash float64, costs CostModel) *PaperAccount {
	return &PaperAccount{
		symbol: symbol,
		costs:  costs,
		cash:   cash,
		fills:  make([]Fill, 0, 64),
	}
}

// Cash returns uninvested cash.
func (a *PaperAccount) Cash() float64 { return a.cash }

// Holding reports whether a position is open.
func (a *PaperAccount) Holding() bool { return a.pos != nil }

// Equity marks the account at price.
func (a *PaperAccount) Equity(mark float64) float64 {
	if a.pos == nil {
		return a.cash
	}
	return a.cash + float64(a.pos.Quantity)*mark
}

// Fills returns a copy of every fill so far.
func (a *PaperAccount) Fills() []Fill {
	cp := make([]Fill, len(a.fills))
	copy(cp, a.fills)
	return cp
}

// Buy opens a position worth at most allocation at ref plus slippage.
// The whole-share quantity is floor(allocation/fillPrice); commission is
// charged on top and the total must fit in cash.
func (a *PaperAccount) Buy(date time.Time, ref, allocation float64) (Fill, error) {
	if a.pos != nil {
		return Fill{}, ErrPositionOpen
	}
	if !(ref > 0) {
		return Fill{}, fmt.Errorf("%w: %v", ErrBadPrice, ref)
	}
	price := a.costs.FillPrice(SideBuy, ref)
	qty := int64(math.Floor(allocation / price))
	if qty <= 0 {
		return Fill{}, ErrZeroQuantity
	}
	cost := price * float64(qty)
	fee := a.costs.Fee(cost)
	if cost+fee > a.cash {
		return Fill{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost+fee, a.cash)
	}

	a.cash -= cost + fee
	a.pos = &model.Position{EntryDate: date, EntryPrice: price, Quantity: qty}
	f := Fill{Side: SideBuy, Date: date, RefPrice: ref, Price: price, Qty: qty, Fee: fee}
	a.fills = append(a.fills, f)
	return f, nil
}

// Sell closes the open position at ref minus slippage and returns the
// realised trade. P&L is net proceeds less the entry notional. A zero
// ref is a valid fill that books the whole basis as a loss.
func (a *PaperAccount) Sell(date time.Time, ref float64, reason string) (model.Trade, error) {
	if a.pos == nil {
		return model.Trade{}, ErrNoPosition
	}
	if !date.After(a.pos.EntryDate) {
		return model.Trade{}, ErrSameBarExit
	}
	if math.IsNaN(ref) || ref < 0 {
		return model.Trade{}, fmt.Errorf("%w: %v", ErrBadPrice, ref)
	}

	pos := *a.pos
	price := a.costs.FillPrice(SideSell, ref)
	qty := float64(pos.Quantity)
	proceeds := price * qty
	fee := a.costs.Fee(proceeds)
	basis := pos.EntryPrice * qty
	net := proceeds - fee - basis

	a.cash += proceeds - fee
	a.pos = nil
	a.fills = append(a.fills, Fill{Side: SideSell, Date: date, RefPrice: ref, Price: price, Qty: pos.Quantity, Fee: fee})

	return model.Trade{
		Symbol:     a.symbol,
		EntryDate:  pos.EntryDate,
		ExitDate:   date,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		GrossPnL:   proceeds - basis,
		Fee:        fee,
		NetPnL:     net,
		Return:     net / basis,
		Reason:     reason,
	}, nil
}
