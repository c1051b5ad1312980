package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/quartzline/rudder/internal/domain"
	"github.com/quartzline/rudder/internal/lotbook"
)

// ApplyResult describes the effect of one committed fill.
type ApplyResult struct {
	// Trade is the ledger row written for the fill
	Trade *domain.Trade
	// CashAfter and EquityAfter are the session balances after commit
	CashAfter   float64
	EquityAfter float64
	// RealizedDelta is the realized P&L this fill contributed
	RealizedDelta float64
	// OpenedExposure is true when the fill took the position from flat to
	// open or flipped its sign. Fresh exposure gets a new TP ladder.
	OpenedExposure bool
	// Duplicate is true when the fill's trade ID was already recorded and
	// the fill was skipped entirely.
	Duplicate bool
}

// ApplyFill posts one fill against the session as a guarded transaction:
//
//  1. skip if the trade ID was already recorded
//  2. compute the cash, realized P&L, lot and position changes in staging
//  3. persist the balance and verify the write by reading it back
//  4. persist the position
//  5. assert the equity identity: the fill may move equity by at most its
//     fee plus a small tolerance
//  6. on success persist the lots and the trade; on violation undo the
//     balance and position writes and restore the lot book
//
// A buy whose cost would overdraw cash fails with ErrBudgetExhausted
// before anything changes. A sell larger than the open lots fails with
// ErrInsufficientLots unless short remainders are enabled.
func (p *Portfolio) ApplyFill(fill *domain.Fill) (*ApplyResult, error) {
	if fill == nil {
		return nil, fmt.Errorf("failed to apply fill: nil fill")
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return nil, fmt.Errorf("failed to apply fill %s: quantity and price must be positive", fill.TradeID)
	}

	exists, err := p.st.TradeExists(fill.TradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check trade %s: %w", fill.TradeID, err)
	}
	if exists {
		p.log.Debug().
			Str("trade_id", fill.TradeID).
			Str("symbol", fill.Symbol).
			Msg("PORTFOLIO_DUPLICATE")
		return &ApplyResult{Duplicate: true}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	executedAt := fill.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	// Stage everything needed to undo the store writes if the equity
	// identity does not hold after this fill.
	key := fill.Symbol + "/" + fill.Strategy
	equityBefore := p.equityLocked()
	balBefore := p.balance
	var posBefore *domain.Position
	if cur, ok := p.positions[key]; ok {
		cp := *cur
		posBefore = &cp
	}
	bookSnap := p.book.Snapshot()

	work := domain.Position{
		SessionID: p.sessionID,
		Symbol:    fill.Symbol,
		Strategy:  fill.Strategy,
		OpenedAt:  executedAt,
	}
	if posBefore != nil {
		work = *posBefore
	}
	qtyBefore := work.Quantity

	cash := p.balance.Cash
	realized := p.balance.RealizedPnL

	var lotAdds []domain.Lot
	var consumed []lotbook.ConsumedLot

	switch fill.Side {
	case domain.SideBuy:
		// A buy covers any open short first; the excess opens or adds to
		// a long. The fee splits across the legs by quantity.
		var cover float64
		if qtyBefore < 0 {
			cover = math.Min(fill.Quantity, -qtyBefore)
		}
		open := fill.Quantity - cover
		if cover > 0 && open <= flatEpsilon {
			cover = fill.Quantity
			open = 0
		}
		coverFee := 0.0
		if cover > 0 {
			coverFee = fill.Fee * cover / fill.Quantity
		}
		openFee := fill.Fee - coverFee

		if cover > 0 {
			// Covering releases the cash reserved at the short's average
			// entry; the entry-to-fill difference is realized.
			cash -= work.AvgEntryPrice*cover + coverFee
			realized += (work.AvgEntryPrice - fill.Price) * cover
			work.Quantity += cover
			if math.Abs(work.Quantity) <= flatEpsilon {
				work.Quantity = 0
				work.AvgEntryPrice = 0
			}
		}
		if open > 0 {
			cost := open * fill.Price
			prevQty := work.Quantity
			cash -= cost + openFee
			if prevQty <= flatEpsilon {
				work.AvgEntryPrice = fill.Price
				work.OpenedAt = executedAt
				work.Quantity = open
			} else {
				work.AvgEntryPrice = (prevQty*work.AvgEntryPrice + cost) / (prevQty + open)
				work.Quantity = prevQty + open
			}
			lotAdds = append(lotAdds, domain.Lot{
				CreatedAt: executedAt,
				SessionID: p.sessionID,
				Symbol:    fill.Symbol,
				Strategy:  fill.Strategy,
				TradeID:   fill.TradeID,
				Quantity:  open,
				Price:     fill.Price,
				Fee:       openFee,
			})
		}
		if cash < 0 {
			return nil, fmt.Errorf("buy %s needs %.2f more cash: %w",
				fill.TradeID, -cash, domain.ErrBudgetExhausted)
		}

	case domain.SideSell:
		// A sell consumes long lots FIFO first; any excess opens or adds
		// to a short when short remainders are enabled.
		var closeQty float64
		if qtyBefore > 0 {
			closeQty = math.Min(fill.Quantity, qtyBefore)
		}
		short := fill.Quantity - closeQty
		if closeQty > 0 && short <= flatEpsilon {
			closeQty = fill.Quantity
			short = 0
		}
		if short > 0 && !p.allowShortRemainder {
			return nil, fmt.Errorf("sell %s exceeds open lots by %.8f: %w",
				fill.TradeID, short, domain.ErrInsufficientLots)
		}
		closeFee := 0.0
		if closeQty > 0 {
			closeFee = fill.Fee * closeQty / fill.Quantity
		}
		shortFee := fill.Fee - closeFee

		if closeQty > 0 {
			cons, err := p.book.Consume(fill.Symbol, fill.Strategy, closeQty)
			if err != nil {
				return nil, fmt.Errorf("failed to consume lots for %s: %w", fill.TradeID, err)
			}
			consumed = cons.Lots
			// The cost basis and its embedded entry fees return to cash;
			// the price difference lands in realized P&L.
			cash += cons.CostBasis + cons.FeePortion - closeFee
			realized += fill.Price*closeQty - cons.CostBasis - cons.FeePortion
			work.Quantity -= closeQty
			if math.Abs(work.Quantity) <= flatEpsilon {
				work.Quantity = 0
				work.AvgEntryPrice = 0
			}
		}
		if short > 0 {
			proceeds := short * fill.Price
			prevAbs := math.Abs(work.Quantity)
			cash += proceeds - shortFee
			if prevAbs <= flatEpsilon {
				work.AvgEntryPrice = fill.Price
				work.OpenedAt = executedAt
				work.Quantity = -short
			} else {
				work.AvgEntryPrice = (prevAbs*work.AvgEntryPrice + proceeds) / (prevAbs + short)
				work.Quantity = -(prevAbs + short)
			}
		}

	default:
		return nil, fmt.Errorf("failed to apply fill %s: unknown side %q", fill.TradeID, fill.Side)
	}

	work.CurrentPrice = fill.Price
	work.UpdatedAt = executedAt
	closed := work.Quantity == 0

	rollback := func() {
		if err := p.st.SaveCashEquity(&balBefore); err != nil {
			p.log.Error().Err(err).Str("trade_id", fill.TradeID).Msg("rollback failed to restore balance")
		}
		var perr error
		if posBefore != nil {
			perr = p.st.UpsertPosition(posBefore)
		} else {
			perr = p.st.DeletePosition(p.sessionID, fill.Symbol, fill.Strategy)
		}
		if perr != nil {
			p.log.Error().Err(perr).Str("trade_id", fill.TradeID).Msg("rollback failed to restore position")
		}
		p.book.Restore(bookSnap)
	}

	// Persist the balance and read it back. A silent write failure here
	// would poison every later cycle.
	newBal := balBefore
	newBal.Cash = cash
	newBal.RealizedPnL = realized
	newBal.FeesPaid = balBefore.FeesPaid + fill.Fee
	if err := p.st.SaveCashEquity(&newBal); err != nil {
		p.book.Restore(bookSnap)
		return nil, fmt.Errorf("failed to save cash for %s: %w", fill.TradeID, err)
	}
	saved, err := p.st.GetCashEquity(p.sessionID)
	if err != nil || saved == nil || math.Abs(saved.Cash-cash) > 1e-9 {
		rollback()
		got := math.NaN()
		if saved != nil {
			got = saved.Cash
		}
		p.log.Error().
			Err(err).
			Str("trade_id", fill.TradeID).
			Float64("want_cash", cash).
			Float64("got_cash", got).
			Msg("CASH_SAVE_MISMATCH")
		return nil, fmt.Errorf("cash save verification failed for %s: %w",
			fill.TradeID, domain.ErrInvariantViolation)
	}
	p.log.Debug().
		Str("trade_id", fill.TradeID).
		Float64("cash", cash).
		Msg("CASH_SAVE_VERIFIED")

	// Persist the position row
	if closed {
		err = p.st.DeletePosition(p.sessionID, fill.Symbol, fill.Strategy)
	} else {
		err = p.st.UpsertPosition(&work)
	}
	if err != nil {
		rollback()
		return nil, fmt.Errorf("failed to persist position for %s: %w", fill.TradeID, err)
	}

	// Equity identity: a fill may move equity by its fee, plus a small
	// tolerance for the slippage between the cycle mark and the fill price.
	var othersValue float64
	for k, pos := range p.positions {
		if k != key {
			othersValue += pos.Value()
		}
	}
	equityAfter := cash + othersValue + work.Value() + realized
	allowed := fill.Fee + equityEpsilon(equityBefore)
	if math.Abs(equityAfter-equityBefore) > allowed {
		rollback()
		p.log.Error().
			Str("trade_id", fill.TradeID).
			Str("symbol", fill.Symbol).
			Str("side", string(fill.Side)).
			Float64("equity_before", equityBefore).
			Float64("equity_after", equityAfter).
			Float64("delta", equityAfter-equityBefore).
			Float64("allowed", allowed).
			Msg("PORTFOLIO_DISCARD")
		return nil, fmt.Errorf("fill %s moved equity by %.4f, allowed %.4f: %w",
			fill.TradeID, equityAfter-equityBefore, allowed, domain.ErrInvariantViolation)
	}

	// Commit: lots first so a crash between steps is caught by the trade
	// idempotency check, then the trade row, then the final balance.
	var savedLotIDs []int64
	undoLots := func() {
		for _, id := range savedLotIDs {
			if err := p.st.DeleteLot(id); err != nil {
				p.log.Error().Err(err).Int64("lot_id", id).Msg("rollback failed to remove lot")
			}
		}
	}
	for i := range lotAdds {
		if err := p.st.SaveLot(&lotAdds[i]); err != nil {
			undoLots()
			rollback()
			return nil, fmt.Errorf("failed to save lot for %s: %w", fill.TradeID, err)
		}
		savedLotIDs = append(savedLotIDs, lotAdds[i].ID)
		if err := p.book.Add(lotAdds[i]); err != nil {
			undoLots()
			rollback()
			return nil, fmt.Errorf("failed to add lot for %s: %w", fill.TradeID, err)
		}
	}
	for _, cl := range consumed {
		if cl.Remaining > flatEpsilon {
			err = p.st.UpdateLot(cl.LotID, cl.Remaining, cl.RemainingFee)
		} else {
			err = p.st.DeleteLot(cl.LotID)
		}
		if err != nil {
			undoLots()
			rollback()
			return nil, fmt.Errorf("failed to settle lot %d for %s: %w", cl.LotID, fill.TradeID, err)
		}
	}

	trade := &domain.Trade{
		ExecutedAt:  executedAt,
		SessionID:   p.sessionID,
		Symbol:      fill.Symbol,
		Strategy:    fill.Strategy,
		Side:        fill.Side,
		TradeID:     fill.TradeID,
		OrderID:     fill.OrderID,
		CycleID:     fill.CycleID,
		Reason:      fill.Reason,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Fees:        fill.Fee,
		RealizedPnL: realized - balBefore.RealizedPnL,
	}
	if err := p.st.SaveTrade(trade); err != nil {
		undoLots()
		rollback()
		return nil, fmt.Errorf("failed to save trade %s: %w", fill.TradeID, err)
	}

	// Adopt the staged state
	p.balance = newBal
	p.balance.PreviousEquity = balBefore.Equity
	p.balance.Equity = equityAfter
	if closed {
		delete(p.positions, key)
	} else {
		cp := work
		p.positions[key] = &cp
	}
	p.balance.UnrealizedPnL = p.unrealizedLocked()
	if err := p.st.SaveCashEquity(&p.balance); err != nil {
		p.log.Error().Err(err).Str("trade_id", fill.TradeID).Msg("failed to save final balance")
	}

	opened := (qtyBefore == 0 && work.Quantity != 0) ||
		(qtyBefore > 0 && work.Quantity < 0) ||
		(qtyBefore < 0 && work.Quantity > 0)

	p.log.Info().
		Str("trade_id", fill.TradeID).
		Str("symbol", fill.Symbol).
		Str("strategy", fill.Strategy).
		Str("side", string(fill.Side)).
		Float64("quantity", fill.Quantity).
		Float64("price", fill.Price).
		Float64("fee", fill.Fee).
		Float64("realized_delta", trade.RealizedPnL).
		Float64("cash", cash).
		Float64("equity", equityAfter).
		Msg("PORTFOLIO_COMMIT")

	return &ApplyResult{
		Trade:          trade,
		CashAfter:      cash,
		EquityAfter:    equityAfter,
		RealizedDelta:  trade.RealizedPnL,
		OpenedExposure: opened,
	}, nil
}
