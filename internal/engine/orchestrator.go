package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dca-trading-bot/internal/budget"
	"dca-trading-bot/internal/database"
	"dca-trading-bot/internal/events"
	"dca-trading-bot/internal/exchange"
	"dca-trading-bot/internal/indicators"
	"dca-trading-bot/internal/metrics"
	"dca-trading-bot/internal/strategy"
)

// ============================================================================
// PORTS
// ============================================================================

// Store is the slice of the repository the orchestrator needs.
type Store interface {
	GetOpenPosition(ctx context.Context, botID int64, productID, direction string) (*database.Position, error)
	CreatePosition(ctx context.Context, p *database.Position) error
	UpdatePosition(ctx context.Context, p *database.Position) error
	CreateTrade(ctx context.Context, t *database.Trade) error
	CreateSignal(ctx context.Context, s *database.Signal) error
	RecordOrderResult(ctx context.Context, h *database.OrderHistory) (bool, error)
	SaveIndicatorSnapshot(ctx context.Context, botID int64, productID string, snapshot map[string]float64) error
	GetIndicatorSnapshot(ctx context.Context, botID int64, productID string) (map[string]float64, error)
}

var _ Store = (*database.Repository)(nil)

// failsafer is implemented by the AI strategy; when the provider is
// unreachable and a position is open, the orchestrator falls back to it.
type failsafer interface {
	Failsafe(position *database.Position, currentPrice float64) (bool, string)
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// Config tunes per-cycle execution checks.
type Config struct {
	SlippageGuardEnabled bool
	MaxSlippagePercent   float64 // veto market orders above this book impact
	SlippageDepth        int     // order book levels to inspect
	MaxMarkDivergencePct float64 // defer exits when candle close and mark diverge beyond this
}

// ActionResult is the outcome of one evaluation cycle.
type ActionResult struct {
	Action   string
	Reason   string
	Position *database.Position
}

// Orchestrator runs the evaluation-to-execution cycle for one (bot, product)
// pair per call. Every call writes exactly one audit Signal, whatever branch
// it takes. Positions are mutated only by the task owning their (bot,
// product) pair, so no lock is held across the cycle.
type Orchestrator struct {
	store  Store
	client exchange.Client
	alloc  *budget.Allocator
	bus    *events.EventBus
	cfg    Config
	logger zerolog.Logger
}

func NewOrchestrator(store Store, client exchange.Client, alloc *budget.Allocator, bus *events.EventBus, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.SlippageDepth <= 0 {
		cfg.SlippageDepth = 20
	}
	return &Orchestrator{
		store:  store,
		client: client,
		alloc:  alloc,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// ProcessSignal executes one full cycle: load state, analyze, budget, buy
// evaluation, sell evaluation, audit.
func (o *Orchestrator) ProcessSignal(ctx context.Context, bot *database.Bot, strat strategy.Strategy, productID string, candles map[string][]exchange.Candle, currentPrice float64) (*ActionResult, error) {
	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	// Step 1: load the open legs. A bidirectional bot can hold a long and a
	// short on the same pair at once, each from its own reservation pot.
	long, err := o.store.GetOpenPosition(ctx, bot.ID, productID, database.DirectionLong)
	if err != nil {
		return nil, fmt.Errorf("loading open long position: %w", err)
	}
	short, err := o.store.GetOpenPosition(ctx, bot.ID, productID, database.DirectionShort)
	if err != nil {
		return nil, fmt.Errorf("loading open short position: %w", err)
	}
	legs := make([]*database.Position, 0, 2)
	if long != nil {
		legs = append(legs, long)
	}
	if short != nil {
		legs = append(legs, short)
	}
	position := long
	if position == nil {
		position = short
	}

	// Step 2: analyze. The previous cycle's snapshot feeds crossing
	// detection across cycle boundaries.
	prev, err := o.store.GetIndicatorSnapshot(ctx, bot.ID, productID)
	if err != nil {
		o.logger.Warn().Err(err).Int64("bot_id", bot.ID).Str("product", productID).
			Msg("previous snapshot unavailable, crossings fall back to candle history")
	}
	signal, err := strat.AnalyzeSignal(ctx, strategy.AnalyzeInput{
		ProductID:     productID,
		Candles:       candles,
		CurrentPrice:  currentPrice,
		Position:      position,
		PreviousCycle: indicators.Snapshot(prev),
	})
	if err != nil {
		return o.finish(ctx, bot, position, productID, currentPrice, "none", database.ActionNone,
			"analysis failed: "+err.Error()), nil
	}
	if signal != nil && len(signal.Snapshot) > 0 {
		if err := o.store.SaveIndicatorSnapshot(ctx, bot.ID, productID, map[string]float64(signal.Snapshot)); err != nil {
			o.logger.Warn().Err(err).Msg("saving indicator snapshot failed")
		}
	}

	// No decision this cycle. Open legs under an unreachable AI still get
	// the failsafe check.
	if signal == nil {
		if fs, ok := strat.(failsafer); ok && len(legs) > 0 {
			var holdReason string
			for _, leg := range legs {
				sell, reason := fs.Failsafe(leg, currentPrice)
				if sell {
					return o.marketClose(ctx, bot, leg, currentPrice, "failsafe", database.ActionFailsafeSell, reason)
				}
				holdReason = reason
			}
			return o.finish(ctx, bot, position, productID, currentPrice, "failsafe", database.ActionHold, holdReason), nil
		}
		return o.finish(ctx, bot, position, productID, currentPrice, "none", database.ActionNone,
			"no decision this cycle"), nil
	}

	// An outstanding limit close blocks everything else on the pair.
	for _, leg := range legs {
		if leg.ClosingViaLimit {
			return o.checkLimitClose(ctx, bot, leg, currentPrice)
		}
	}

	// Step 3: entry for the signalled direction when that leg is flat. An
	// open opposite leg does not block it; both legs spend from their own
	// pots and are managed below in the same cycle.
	entryLeg := long
	if signal.Direction == database.DirectionShort {
		entryLeg = short
	}
	if entryLeg == nil {
		available, err := o.alloc.AvailableBudget(ctx, bot, nil, productID, signal.Direction, false)
		if err != nil {
			return nil, fmt.Errorf("computing available budget: %w", err)
		}
		if buy, quote, reason := strat.ShouldBuy(signal, nil, available); buy {
			return o.openPosition(ctx, bot, signal, productID, quote, available, currentPrice, reason)
		} else if len(legs) == 0 {
			return o.declineEntry(ctx, bot, productID, currentPrice, signal, reason), nil
		}
	}

	// Steps 4 and 5: per open leg, safety order first, then the sell
	// evaluation. The first order placed ends the cycle.
	var ticker *exchange.Ticker
	if len(legs) > 0 {
		t, terr := o.client.GetTicker(ctx, productID)
		if terr != nil {
			o.logger.Warn().Err(terr).Str("product", productID).Msg("ticker unavailable for sell evaluation")
		} else {
			ticker = t
		}
	}
	market := strategy.MarketContext{Ticker: ticker}
	var dcaFailure string
	for _, leg := range legs {
		available, err := o.alloc.AvailableBudget(ctx, bot, leg, productID, leg.Direction, false)
		if err != nil {
			return nil, fmt.Errorf("computing available budget: %w", err)
		}
		if buy, quote, reason := strat.ShouldBuy(signal, leg, available); buy {
			result, failure := o.dcaBuy(ctx, bot, leg, productID, quote, available, currentPrice, reason)
			if result != nil {
				return result, nil
			}
			// A failed DCA buy never aborts the cycle; the leg stays open
			// and the sell evaluation still runs.
			if dcaFailure != "" {
				dcaFailure += "; "
			}
			dcaFailure += failure
		}
		if sell, reason := strat.ShouldSell(signal, leg, currentPrice, market); sell {
			return o.closePosition(ctx, bot, strat, signal, leg, currentPrice, market, reason)
		}
	}

	// Step 6: nothing to do; audit the hold.
	reason := "no action"
	action := database.ActionNone
	if len(legs) > 0 {
		action = database.ActionHold
		notes := make([]string, 0, len(legs))
		for _, leg := range legs {
			note := fmt.Sprintf("holding at %.2f%% profit", leg.ProfitPercent(currentPrice))
			if len(legs) > 1 {
				note = leg.Direction + " leg " + note
			}
			notes = append(notes, note)
			// The sell evaluation may have advanced the peak price or
			// trailing levels; those survive only if written back.
			if err := o.store.UpdatePosition(ctx, leg); err != nil {
				o.logger.Error().Err(err).Int64("position_id", leg.ID).Msg("persisting trailing state failed")
			}
		}
		reason = strings.Join(notes, "; ")
	}
	if dcaFailure != "" {
		reason = dcaFailure + "; " + reason
	}
	return o.finish(ctx, bot, position, productID, currentPrice, "hold", action, reason), nil
}

// ============================================================================
// BUY SIDE
// ============================================================================

// openPosition runs admission control, validation and the initial market buy
// atomically from the position's point of view: an entry order failure moves
// the row to failed so no orphaned open position survives the cycle.
func (o *Orchestrator) openPosition(ctx context.Context, bot *database.Bot, signal *strategy.SignalResult, productID string, quote, available, currentPrice float64, reason string) (*ActionResult, error) {
	if err := o.alloc.AdmitNewDeal(ctx, bot, productID, time.Now()); err != nil {
		o.countDecline(err)
		return o.finish(ctx, bot, nil, productID, currentPrice, "buy", database.ActionNone, err.Error()), nil
	}
	if err := o.alloc.ValidateOrderFunds(quote, available); err != nil {
		o.countDecline(err)
		o.recordOrderFailure(ctx, bot, productID, database.TradeTypeInitial, string(exchange.SideBuy), err)
		return o.finish(ctx, bot, nil, productID, currentPrice, "buy", database.ActionNone, err.Error()), nil
	}

	direction := signal.Direction
	if direction == "" {
		direction = database.DirectionLong
	}
	side := exchange.SideBuy
	if direction == database.DirectionShort {
		side = exchange.SideSell
	}

	if vetoed, why := o.slippageVeto(ctx, productID, side, quote/currentPrice); vetoed {
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineSlippage).Inc()
		return o.finish(ctx, bot, nil, productID, currentPrice, "buy", database.ActionHold, why), nil
	}

	position := &database.Position{
		BotID:           bot.ID,
		ProductID:       productID,
		Direction:       direction,
		Status:          database.PositionStatusOpen,
		MaxQuoteAllowed: available,
		OpenedAt:        time.Now(),
	}
	if err := o.store.CreatePosition(ctx, position); err != nil {
		return nil, fmt.Errorf("creating position: %w", err)
	}

	order, err := o.client.CreateMarketOrder(ctx, productID, side, 0, quote, newClientOrderID())
	if err != nil {
		msg := err.Error()
		position.Status = database.PositionStatusFailed
		position.LastError = &msg
		if uerr := o.store.UpdatePosition(ctx, position); uerr != nil {
			o.logger.Error().Err(uerr).Int64("position_id", position.ID).Msg("rollback to failed state failed")
		}
		o.recordOrderFailure(ctx, bot, productID, database.TradeTypeInitial, string(side), err)
		metrics.OrdersTotal.WithLabelValues(string(side), "failed").Inc()
		if o.bus != nil {
			o.bus.PublishPositionFailed(bot.ID, position.ID, productID, msg)
		}
		return o.finish(ctx, bot, position, productID, currentPrice, "buy", database.ActionNone,
			"entry order failed: "+msg), nil
	}

	fillPrice := order.AvgFillPrice()
	if fillPrice == 0 {
		fillPrice = currentPrice
	}
	position.ApplyFill(order.ExecutedValue, order.FilledSize)
	position.HighestPriceSinceEntry = fillPrice
	trade := &database.Trade{
		PositionID:  position.ID,
		Side:        string(side),
		Price:       fillPrice,
		QuoteAmount: order.ExecutedValue,
		BaseAmount:  order.FilledSize,
		TradeType:   database.TradeTypeInitial,
		OrderID:     &order.ID,
	}
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("recording initial trade failed")
	}
	position.Trades = append(position.Trades, trade)
	if err := o.store.UpdatePosition(ctx, position); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting filled position failed")
	}

	metrics.OrdersTotal.WithLabelValues(string(side), "filled").Inc()
	metrics.OpenPositions.Inc()
	if o.bus != nil {
		o.bus.PublishPositionOpened(bot.ID, position.ID, productID, direction, fillPrice, order.ExecutedValue)
		o.bus.PublishTradeExecuted(bot.ID, position.ID, productID, string(side), database.TradeTypeInitial, fillPrice, order.ExecutedValue)
	}
	return o.finish(ctx, bot, position, productID, currentPrice, "buy", database.ActionBuy, reason), nil
}

// dcaBuy places a safety order on an existing position. On failure it
// records the error and returns (nil, failureNote) so the cycle continues
// into the sell evaluation.
func (o *Orchestrator) dcaBuy(ctx context.Context, bot *database.Bot, position *database.Position, productID string, quote, available, currentPrice float64, reason string) (*ActionResult, string) {
	if err := o.alloc.ValidateOrderFunds(quote, available); err != nil {
		o.countDecline(err)
		o.recordOrderFailure(ctx, bot, productID, database.TradeTypeSafetyOrder, string(exchange.SideBuy), err)
		return nil, "safety order declined: " + err.Error()
	}

	side := exchange.SideBuy
	if !position.IsLong() {
		side = exchange.SideSell
	}
	if vetoed, why := o.slippageVeto(ctx, productID, side, quote/currentPrice); vetoed {
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineSlippage).Inc()
		return nil, why
	}

	order, err := o.client.CreateMarketOrder(ctx, productID, side, 0, quote, newClientOrderID())
	if err != nil {
		msg := err.Error()
		position.LastError = &msg
		if uerr := o.store.UpdatePosition(ctx, position); uerr != nil {
			o.logger.Error().Err(uerr).Int64("position_id", position.ID).Msg("recording DCA failure failed")
		}
		o.recordOrderFailure(ctx, bot, productID, database.TradeTypeSafetyOrder, string(side), err)
		metrics.OrdersTotal.WithLabelValues(string(side), "failed").Inc()
		if o.bus != nil {
			o.bus.PublishOrderFailed(bot.ID, productID, database.TradeTypeSafetyOrder, msg)
		}
		return nil, "safety order failed: " + msg
	}

	fillPrice := order.AvgFillPrice()
	if fillPrice == 0 {
		fillPrice = currentPrice
	}
	position.ApplyFill(order.ExecutedValue, order.FilledSize)
	position.LastError = nil
	trade := &database.Trade{
		PositionID:  position.ID,
		Side:        string(side),
		Price:       fillPrice,
		QuoteAmount: order.ExecutedValue,
		BaseAmount:  order.FilledSize,
		TradeType:   database.TradeTypeSafetyOrder,
		OrderID:     &order.ID,
	}
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("recording safety order trade failed")
	}
	position.Trades = append(position.Trades, trade)
	if err := o.store.UpdatePosition(ctx, position); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting averaged position failed")
	}

	metrics.OrdersTotal.WithLabelValues(string(side), "filled").Inc()
	if o.bus != nil {
		o.bus.PublishTradeExecuted(bot.ID, position.ID, productID, string(side), database.TradeTypeSafetyOrder, fillPrice, order.ExecutedValue)
	}
	return o.finish(ctx, bot, position, productID, currentPrice, "buy", database.ActionBuy, reason), ""
}

// declineEntry audits a buy intent the strategy itself declined.
func (o *Orchestrator) declineEntry(ctx context.Context, bot *database.Bot, productID string, currentPrice float64, signal *strategy.SignalResult, reason string) *ActionResult {
	if signal.NeutralZone {
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineNeutralZone).Inc()
	} else {
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineConditions).Inc()
	}
	if reason == "" {
		reason = "entry conditions not met"
	}
	return o.finish(ctx, bot, nil, productID, currentPrice, "none", database.ActionNone, reason)
}

// ============================================================================
// SELL SIDE
// ============================================================================

// closePosition re-verifies the sell at the live mark price, then closes
// profitable exits with a limit order at the mark and loss exits (stop loss)
// with a guarded market order.
func (o *Orchestrator) closePosition(ctx context.Context, bot *database.Bot, strat strategy.Strategy, signal *strategy.SignalResult, position *database.Position, currentPrice float64, market strategy.MarketContext, reason string) (*ActionResult, error) {
	// A sell at a loss is a stop loss; it executes at market immediately,
	// exempt from the divergence deferral and the mark re-verification.
	if position.ProfitPercent(currentPrice) <= 0 {
		return o.marketClose(ctx, bot, position, currentPrice, "sell", database.ActionSell, reason)
	}

	exitPrice := currentPrice
	if market.Ticker != nil {
		mark := market.Ticker.Mid()
		if mark > 0 {
			if o.cfg.MaxMarkDivergencePct > 0 && currentPrice > 0 {
				divergence := (mark - currentPrice) / currentPrice * 100
				if divergence < 0 {
					divergence = -divergence
				}
				if divergence > o.cfg.MaxMarkDivergencePct {
					if err := o.store.UpdatePosition(ctx, position); err != nil {
						o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting trailing state failed")
					}
					return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionHold,
						fmt.Sprintf("mark price %.4f diverged %.2f%% from candle close, deferring exit", mark, divergence)), nil
				}
			}
			// Candle-close prices can be stale by most of a timeframe;
			// the decision must still hold at the live mark.
			if sell, _ := strat.ShouldSell(signal, position, mark, market); !sell {
				if err := o.store.UpdatePosition(ctx, position); err != nil {
					o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting trailing state failed")
				}
				return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionHold,
					fmt.Sprintf("sell signal did not survive mark price re-verification at %.4f", mark)), nil
			}
			exitPrice = mark
		}
	}

	if position.ProfitPercent(exitPrice) > 0 {
		return o.limitClose(ctx, bot, position, exitPrice, currentPrice, reason)
	}
	return o.marketClose(ctx, bot, position, currentPrice, "sell", database.ActionSell, reason)
}

// limitClose places the single outstanding take-profit limit order.
func (o *Orchestrator) limitClose(ctx context.Context, bot *database.Bot, position *database.Position, exitPrice, currentPrice float64, reason string) (*ActionResult, error) {
	side := exchange.SideSell
	if !position.IsLong() {
		side = exchange.SideBuy
	}
	order, err := o.client.CreateLimitOrder(ctx, position.ProductID, side, exitPrice, position.TotalBaseAcquired, exchange.TimeInForceGTC, newClientOrderID())
	if err != nil {
		msg := err.Error()
		position.LastError = &msg
		if uerr := o.store.UpdatePosition(ctx, position); uerr != nil {
			o.logger.Error().Err(uerr).Int64("position_id", position.ID).Msg("recording close failure failed")
		}
		o.recordOrderFailure(ctx, bot, position.ProductID, "close", string(side), err)
		metrics.OrdersTotal.WithLabelValues(string(side), "failed").Inc()
		// Sells are retried next cycle; the position stays open.
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionHold,
			"close order failed, retrying next cycle: "+msg), nil
	}

	position.ClosingViaLimit = true
	position.LimitCloseOrderID = &order.ID
	position.LastError = nil
	if err := o.store.UpdatePosition(ctx, position); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting limit close state failed")
	}
	metrics.OrdersTotal.WithLabelValues(string(side), "placed").Inc()
	return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionLimitClosePending,
		fmt.Sprintf("%s; limit close placed at %.4f", reason, exitPrice)), nil
}

// checkLimitClose reconciles the one outstanding limit close order.
func (o *Orchestrator) checkLimitClose(ctx context.Context, bot *database.Bot, position *database.Position, currentPrice float64) (*ActionResult, error) {
	if position.LimitCloseOrderID == nil {
		position.ClosingViaLimit = false
		if err := o.store.UpdatePosition(ctx, position); err != nil {
			o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("clearing limit close state failed")
		}
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionHold,
			"limit close state inconsistent, cleared"), nil
	}

	order, err := o.client.GetOrder(ctx, *position.LimitCloseOrderID)
	if err != nil {
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionLimitClosePending,
			"limit close status unavailable: "+err.Error()), nil
	}

	switch order.Status {
	case exchange.OrderStatusFilled:
		exitPrice := order.AvgFillPrice()
		if exitPrice == 0 {
			exitPrice = order.Price
		}
		return o.finalizeClose(ctx, bot, position, order, exitPrice, currentPrice, "sell", database.ActionSell, "limit close filled")
	case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
		position.ClosingViaLimit = false
		position.LimitCloseOrderID = nil
		if err := o.store.UpdatePosition(ctx, position); err != nil {
			o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("clearing cancelled limit close failed")
		}
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionHold,
			"limit close "+order.Status+", re-evaluating next cycle"), nil
	default:
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, "sell", database.ActionLimitClosePending,
			"limit close outstanding"), nil
	}
}

// marketClose exits a position at market, used for stop losses and the AI
// failsafe where immediacy beats price.
func (o *Orchestrator) marketClose(ctx context.Context, bot *database.Bot, position *database.Position, currentPrice float64, signalType, action, reason string) (*ActionResult, error) {
	side := exchange.SideSell
	if !position.IsLong() {
		side = exchange.SideBuy
	}
	if vetoed, why := o.slippageVeto(ctx, position.ProductID, side, position.TotalBaseAcquired); vetoed {
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, signalType, database.ActionHold, why), nil
	}

	order, err := o.client.CreateMarketOrder(ctx, position.ProductID, side, position.TotalBaseAcquired, 0, newClientOrderID())
	if err != nil {
		msg := err.Error()
		position.LastError = &msg
		if uerr := o.store.UpdatePosition(ctx, position); uerr != nil {
			o.logger.Error().Err(uerr).Int64("position_id", position.ID).Msg("recording close failure failed")
		}
		o.recordOrderFailure(ctx, bot, position.ProductID, "close", string(side), err)
		metrics.OrdersTotal.WithLabelValues(string(side), "failed").Inc()
		return o.finish(ctx, bot, position, position.ProductID, currentPrice, signalType, database.ActionHold,
			"close order failed, retrying next cycle: "+msg), nil
	}

	exitPrice := order.AvgFillPrice()
	if exitPrice == 0 {
		exitPrice = currentPrice
	}
	return o.finalizeClose(ctx, bot, position, order, exitPrice, currentPrice, signalType, action, reason)
}

// finalizeClose records the exit trade and moves the position to closed.
func (o *Orchestrator) finalizeClose(ctx context.Context, bot *database.Bot, position *database.Position, order *exchange.Order, exitPrice, currentPrice float64, signalType, action, reason string) (*ActionResult, error) {
	trade := &database.Trade{
		PositionID:  position.ID,
		Side:        string(order.Side),
		Price:       exitPrice,
		QuoteAmount: order.ExecutedValue,
		BaseAmount:  order.FilledSize,
		TradeType:   database.TradeTypeClose,
		OrderID:     &order.ID,
	}
	if err := o.store.CreateTrade(ctx, trade); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("recording close trade failed")
	}
	position.Trades = append(position.Trades, trade)

	now := time.Now()
	profitPct := position.ProfitPercent(exitPrice)
	position.Status = database.PositionStatusClosed
	position.ClosedAt = &now
	position.ClosingViaLimit = false
	position.LimitCloseOrderID = nil
	position.LastError = nil
	if err := o.store.UpdatePosition(ctx, position); err != nil {
		o.logger.Error().Err(err).Int64("position_id", position.ID).Msg("persisting closed position failed")
	}

	metrics.OrdersTotal.WithLabelValues(string(order.Side), "filled").Inc()
	metrics.OpenPositions.Dec()
	if o.bus != nil {
		o.bus.PublishPositionClosed(bot.ID, position.ID, position.ProductID, exitPrice, profitPct, reason)
	}
	o.logger.Info().
		Int64("position_id", position.ID).
		Str("product", position.ProductID).
		Float64("exit_price", exitPrice).
		Float64("profit_pct", profitPct).
		Str("reason", reason).
		Msg("position closed")
	return o.finish(ctx, bot, position, position.ProductID, currentPrice, signalType, action, reason), nil
}

// ============================================================================
// GUARDS AND BOOKKEEPING
// ============================================================================

// slippageVeto walks the order book and vetoes market orders whose estimated
// fill deviates from the best level beyond the configured threshold. A veto
// is a hold, never an error.
func (o *Orchestrator) slippageVeto(ctx context.Context, productID string, side exchange.Side, baseSize float64) (bool, string) {
	if !o.cfg.SlippageGuardEnabled || baseSize <= 0 {
		return false, ""
	}
	book, err := o.client.GetOrderBook(ctx, productID, o.cfg.SlippageDepth)
	if err != nil {
		o.logger.Warn().Err(err).Str("product", productID).Msg("order book unavailable, slippage guard skipped")
		return false, ""
	}
	impact := estimateSlippagePct(book, side, baseSize)
	if impact > o.cfg.MaxSlippagePercent {
		return true, fmt.Sprintf("slippage guard veto: estimated impact %.3f%% exceeds %.3f%%", impact, o.cfg.MaxSlippagePercent)
	}
	return false, ""
}

// estimateSlippagePct computes the percent deviation between the
// size-weighted fill price and the best book level. An exhausted book counts
// as 100%.
func estimateSlippagePct(book *exchange.OrderBook, side exchange.Side, baseSize float64) float64 {
	levels := book.Asks
	if side == exchange.SideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 100
	}
	best := levels[0].Price
	if best <= 0 {
		return 100
	}

	remaining := baseSize
	cost, filled := 0.0, 0.0
	for _, lv := range levels {
		take := lv.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lv.Price
		filled += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 || filled <= 0 {
		return 100
	}
	avg := cost / filled
	impact := (avg - best) / best * 100
	if impact < 0 {
		impact = -impact
	}
	return impact
}

// finish writes the cycle's single audit Signal and builds the result.
func (o *Orchestrator) finish(ctx context.Context, bot *database.Bot, position *database.Position, productID string, price float64, signalType, action, reason string) *ActionResult {
	var positionID *int64
	if position != nil {
		positionID = &position.ID
	}
	sig := &database.Signal{
		BotID:       bot.ID,
		PositionID:  positionID,
		ProductID:   productID,
		SignalType:  signalType,
		ActionTaken: action,
		Reason:      reason,
		Price:       price,
	}
	if err := o.store.CreateSignal(ctx, sig); err != nil {
		o.logger.Error().Err(err).Int64("bot_id", bot.ID).Str("product", productID).Msg("writing audit signal failed")
	}
	if o.bus != nil {
		o.bus.PublishSignalRecorded(bot.ID, productID, signalType, action, reason, price)
	}
	metrics.CyclesTotal.WithLabelValues(action).Inc()
	return &ActionResult{Action: action, Reason: reason, Position: position}
}

// recordOrderFailure appends to the audit trail; the repository suppresses
// consecutive duplicates per (bot, product, trade type).
func (o *Orchestrator) recordOrderFailure(ctx context.Context, bot *database.Bot, productID, tradeType, side string, cause error) {
	msg := cause.Error()
	inserted, err := o.store.RecordOrderResult(ctx, &database.OrderHistory{
		BotID:     bot.ID,
		ProductID: productID,
		TradeType: tradeType,
		Side:      side,
		Status:    database.OrderHistoryStatusFailed,
		Error:     &msg,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("recording order failure failed")
		return
	}
	if !inserted {
		o.logger.Debug().Str("product", productID).Str("trade_type", tradeType).Msg("duplicate order failure suppressed")
	}
}

// countDecline maps allocator declines onto metric reason classes.
func (o *Orchestrator) countDecline(err error) {
	switch {
	case errors.Is(err, budget.ErrMaxDealsReached):
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineMaxDeals).Inc()
	case errors.Is(err, budget.ErrCooldownActive):
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineCooldown).Inc()
	case errors.Is(err, budget.ErrBelowMinimum):
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineBelowMinimum).Inc()
	default:
		metrics.DeclinedBuysTotal.WithLabelValues(metrics.DeclineBudget).Inc()
	}
}

func newClientOrderID() string {
	return "dca-" + uuid.NewString()
}
