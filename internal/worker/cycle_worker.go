package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/decision"
	"github.com/perp-arena/internal/ledger"
	"github.com/perp-arena/internal/market"
	"github.com/perp-arena/internal/middleware"
	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/repository"
	"github.com/perp-arena/internal/service"
	"github.com/perp-arena/internal/sim"
)

// CycleWorker drives the trading loop for the active version: one cycle
// gathers marks, asks the decision source for a batch, executes it against
// the simulator and ledger, sweeps margins, settles funding and persists
// the resulting state. Symbols are isolated: one symbol failing never
// rolls back another's fill.
type CycleWorker struct {
	engineCfg      config.EngineConfig
	versionService *service.VersionService
	reportService  *service.ReportService
	fillRepo       *repository.FillRepository
	positionRepo   *repository.PositionRepository
	snapshotRepo   *repository.SnapshotRepository
	cache          *market.PriceCache
	source         decision.Source
	rates          sim.RateSource

	run        *versionRun
	cycleCount int

	stopChan chan struct{}
	doneChan chan struct{}
}

// versionRun is the engine state bound to one active version. It is rebuilt
// from the fill log whenever the active version changes or the process
// restarts.
type versionRun struct {
	version     *models.Version
	cfg         config.SimConfig
	led         *ledger.Ledger
	simulator   *sim.Simulator
	margins     *sim.MarginEvaluator
	funding     *sim.FundingEngine
	lastErr     map[string]string
	exitPlans   map[string]*models.ExitPlan
	lastFunding time.Time
}

// NewCycleWorker creates a new CycleWorker. rates may be nil unless the
// funding mode is external.
func NewCycleWorker(
	engineCfg config.EngineConfig,
	versionService *service.VersionService,
	reportService *service.ReportService,
	fillRepo *repository.FillRepository,
	positionRepo *repository.PositionRepository,
	snapshotRepo *repository.SnapshotRepository,
	cache *market.PriceCache,
	source decision.Source,
	rates sim.RateSource,
) *CycleWorker {
	return &CycleWorker{
		engineCfg:      engineCfg,
		versionService: versionService,
		reportService:  reportService,
		fillRepo:       fillRepo,
		positionRepo:   positionRepo,
		snapshotRepo:   snapshotRepo,
		cache:          cache,
		source:         source,
		rates:          rates,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Start begins the cycle loop and blocks until Stop is called.
func (w *CycleWorker) Start() {
	defer close(w.doneChan)

	interval := time.Duration(w.engineCfg.CycleIntervalSec) * time.Second
	middleware.LogInfo("cycle worker started, interval=%v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timeout := time.Duration(w.engineCfg.CycleTimeoutSec) * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := w.RunCycle(ctx, time.Now().UTC()); err != nil {
				middleware.LogError("cycle failed: %v", err)
			}
			cancel()
		case <-w.stopChan:
			middleware.LogInfo("cycle worker stopped")
			return
		}
	}
}

// Stop stops the cycle loop and waits for the current cycle to finish.
func (w *CycleWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// RunCycle executes one full engine cycle at the given time.
func (w *CycleWorker) RunCycle(ctx context.Context, now time.Time) error {
	version, err := w.versionService.Active()
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveVersion) {
			return nil // nothing to trade
		}
		return err
	}

	if w.run == nil || w.run.version.ID != version.ID {
		if err := w.bootstrap(version); err != nil {
			return err
		}
	}
	run := w.run

	marks := w.cache.Snapshot(run.cfg.Symbols)
	for symbol, mark := range marks {
		run.funding.ObserveMark(symbol, mark)
	}

	input := w.buildInput(now, marks)
	timeout := time.Duration(w.engineCfg.DecisionTimeoutSec) * time.Second
	batch, decideErr := decision.DecideWithTimeout(ctx, w.source, input, timeout)
	if decideErr != "" {
		middleware.LogError("decision source degraded to hold: %s", decideErr)
		for _, symbol := range run.cfg.Symbols {
			run.lastErr[symbol] = decideErr
		}
	}

	symbols := make([]string, len(run.cfg.Symbols))
	copy(symbols, run.cfg.Symbols)
	sort.Strings(symbols)

	for _, symbol := range symbols {
		d, ok := batch[symbol]
		if !ok {
			continue
		}
		w.execute(d, symbol, marks, now)
	}

	liqs, err := run.margins.Evaluate(run.led, marks, now, func(f *sim.Fill, reason string) error {
		return w.applyFill(f, "", models.ExitReasonLiquidation, nil)
	})
	if err != nil {
		return fmt.Errorf("liquidation sweep: %w", err)
	}
	for _, liq := range liqs {
		middleware.LogInfo("liquidated %s qty=%.8f price=%.2f ratio=%.4f",
			liq.Symbol, liq.Qty, liq.Price, liq.MarginRatio)
		run.lastErr[liq.Symbol] = "position liquidated"
	}

	w.settleFunding(marks, now)

	// Every dollar must be explained by the flow totals before anything is
	// persisted. A broken ledger halts the cycle, never limps on.
	if err := run.led.CheckInvariants(); err != nil {
		return err
	}

	if err := w.persistState(marks, now); err != nil {
		return err
	}

	w.cycleCount++
	if n := w.engineCfg.AnalyticsEveryCycles; n > 0 && w.cycleCount%n == 0 {
		if _, err := w.reportService.RecomputePerformance(run.version, now); err != nil {
			middleware.LogError("analytics recompute failed: %v", err)
		}
	}
	return nil
}

// bootstrap binds the engine to a version, rebuilding the ledger by
// replaying the fill log. Funding is not part of the fill log; the
// cumulative total is restored from the latest equity snapshot.
func (w *CycleWorker) bootstrap(version *models.Version) error {
	cfg := w.versionService.SimConfigFor(version)
	led := ledger.New(version.InitialCash)

	fills, err := w.fillRepo.GetByVersionID(version.ID)
	if err != nil {
		return err
	}
	for i := range fills {
		f := &fills[i]
		lev := f.Leverage
		if lev <= 0 {
			lev = 1
		}
		if _, err := led.ApplyFill(f.Symbol, f.SignedQuantity(), f.Price, f.Fee, lev, f.ExecutedAt); err != nil {
			return fmt.Errorf("replay fill %s: %w", f.ClientOrderID, err)
		}
	}

	snap, err := w.snapshotRepo.GetLatest(version.ID)
	if err != nil {
		return err
	}
	if snap != nil {
		led.ApplyFunding(snap.Funding)
	}

	simulator := sim.NewSimulator(cfg)
	run := &versionRun{
		version:   version,
		cfg:       cfg,
		led:       led,
		simulator: simulator,
		margins:   sim.NewMarginEvaluator(cfg, simulator),
		funding:   sim.NewFundingEngine(cfg.FundingMode, w.rates),
		lastErr:   make(map[string]string),
		exitPlans: make(map[string]*models.ExitPlan),
	}

	positions, err := w.positionRepo.GetByVersionID(version.ID)
	if err != nil {
		return err
	}
	for i := range positions {
		if plan := positions[i].ExitPlan(); plan != nil {
			run.exitPlans[positions[i].Symbol] = plan
		}
	}

	w.run = run
	middleware.LogInfo("engine bound to version %s (id=%d), replayed %d fills",
		version.Tag, version.ID, len(fills))
	return nil
}

func (w *CycleWorker) buildInput(now time.Time, marks map[string]float64) decision.CycleInput {
	run := w.run
	input := decision.CycleInput{
		Ts:     now,
		Equity: run.led.Equity(marks),
		Cash:   run.led.Cash(),
	}
	for _, symbol := range run.cfg.Symbols {
		state := decision.SymbolState{
			Symbol:    symbol,
			LastError: run.lastErr[symbol],
		}
		if quote, ok := w.cache.Quote(symbol); ok {
			state.Mark = quote.Mid()
			state.SpreadBps = quote.SpreadBps()
		}
		if pos, ok := run.led.Position(symbol); ok {
			state.Quantity = pos.Quantity
			state.AvgEntry = pos.AvgEntry
		}
		input.Symbols = append(input.Symbols, state)
	}
	return input
}

// execute carries out one symbol's decision. The decision is validated
// before anything touches the ledger; failures are recorded as last-error
// text for the next cycle and never abort the batch.
func (w *CycleWorker) execute(d decision.Decision, symbol string, marks map[string]float64, now time.Time) {
	run := w.run

	d.Symbol = symbol
	if err := decision.Validate(d, run.cfg); err != nil {
		run.lastErr[symbol] = err.Error()
		middleware.LogDebug("%s: decision rejected: %v", symbol, err)
		return
	}

	if d.Signal == decision.SignalHold {
		return
	}

	mark, hasMark := marks[symbol]
	if !hasMark {
		run.lastErr[symbol] = sim.ErrNoMarkPrice.Error()
		return
	}

	cur, hasPos := run.led.Position(symbol)

	var target, leverage float64
	switch d.Signal {
	case decision.SignalClose:
		if !hasPos {
			return
		}
		target = 0
		leverage = cur.Leverage
		if leverage < 1 {
			leverage = 1
		}
	case decision.SignalBuy, decision.SignalSell:
		avail := run.led.AvailableMargin(marks)
		freed := freedMargin(run.led, symbol, mark)
		target = targetQuantity(d, run.led.Equity(marks), avail, freed, mark)
		leverage = d.Leverage
	}

	fill, err := run.simulator.Simulate(sim.Request{
		Symbol:          symbol,
		TargetQty:       target,
		CurrentQty:      cur.Quantity,
		MarkPrice:       mark,
		Leverage:        leverage,
		AvailableMargin: run.led.AvailableMargin(marks) + freedMargin(run.led, symbol, mark),
		Ts:              now,
	})
	if err != nil {
		run.lastErr[symbol] = err.Error()
		middleware.LogDebug("%s: decision rejected: %v", symbol, err)
		return
	}

	if err := w.applyFill(fill, d.Justification, models.ExitReasonStrategy, d.ExitPlan); err != nil {
		run.lastErr[symbol] = err.Error()
		middleware.LogError("%s: fill failed: %v", symbol, err)
		return
	}

	delete(run.lastErr, symbol)
}

// applyFill applies a simulated fill to the ledger and appends one fill row
// per accounting event. A flip persists as two rows sharing the client
// order id with a suffix on the second.
func (w *CycleWorker) applyFill(f *sim.Fill, entryReason, exitReason string, plan *models.ExitPlan) error {
	run := w.run

	events, err := run.led.ApplyFill(f.Symbol, f.DeltaQty, f.Price, f.Fee, f.Leverage, f.Ts)
	if err != nil {
		return err
	}

	rows := fillRows(run.version.ID, f, events, entryReason, exitReason)
	for i := range rows {
		if err := w.fillRepo.Create(&rows[i]); err != nil {
			return err
		}
	}

	last := events[len(events)-1]
	switch last.Kind {
	case ledger.EventOpen, ledger.EventIncrease:
		if plan != nil {
			run.exitPlans[f.Symbol] = plan
		}
		if last.Kind == ledger.EventOpen {
			run.funding.Begin(f.Symbol, f.Ts)
		}
	case ledger.EventFullClose:
		delete(run.exitPlans, f.Symbol)
		run.funding.Reset(f.Symbol)
	}
	return nil
}

// fillRows maps accounting events onto persistable fill rows.
func fillRows(versionID uint, f *sim.Fill, events []ledger.Event, entryReason, exitReason string) []models.Fill {
	rows := make([]models.Fill, 0, len(events))
	for i, ev := range events {
		clientID := f.ClientOrderID
		if i > 0 {
			clientID = fmt.Sprintf("%s-%d", f.ClientOrderID, i+1)
		}
		side := models.FillSideBuy
		if ev.SignedDelta < 0 {
			side = models.FillSideSell
		}

		row := models.Fill{
			VersionID:     versionID,
			Symbol:        ev.Symbol,
			Side:          side,
			Quantity:      ev.Quantity,
			Price:         ev.Price,
			Fee:           ev.Fee,
			Leverage:      f.Leverage,
			ClientOrderID: clientID,
			ExecutedAt:    ev.Ts,
		}
		switch ev.Kind {
		case ledger.EventOpen, ledger.EventIncrease:
			row.EntryReason = entryReason
		default:
			row.ExitReason = exitReason
		}
		rows = append(rows, row)
	}
	return rows
}

func (w *CycleWorker) settleFunding(marks map[string]float64, now time.Time) {
	run := w.run
	interval := time.Duration(w.engineCfg.FundingIntervalSec) * time.Second
	if !run.lastFunding.IsZero() && now.Sub(run.lastFunding) < interval {
		return
	}
	run.lastFunding = now

	for _, payment := range run.funding.Settle(run.led, marks, now) {
		middleware.LogInfo("funding %s rate8h=%.6f payment=%.6f",
			payment.Symbol, payment.Rate8h, payment.Payment)
	}
}

// persistState mirrors the ledger into the positions table and appends the
// cycle's equity snapshot. The snapshot timestamp is truncated to the
// minute so a retried cycle overwrites its own row.
func (w *CycleWorker) persistState(marks map[string]float64, now time.Time) error {
	run := w.run

	for _, symbol := range run.cfg.Symbols {
		pos, ok := run.led.Position(symbol)
		if !ok {
			if err := w.positionRepo.DeleteByVersionIDAndSymbol(run.version.ID, symbol); err != nil {
				return err
			}
			continue
		}

		mark, hasMark := marks[symbol]
		if !hasMark {
			mark = pos.AvgEntry
		}
		entryTime := pos.EntryTime
		row := models.Position{
			VersionID:     run.version.ID,
			Symbol:        symbol,
			Quantity:      pos.Quantity,
			AvgEntry:      pos.AvgEntry,
			Leverage:      pos.Leverage,
			UnrealizedPnL: pos.UnrealizedPnL(mark),
			EntryTime:     &entryTime,
		}
		row.SetExitPlan(run.exitPlans[symbol])
		if err := w.positionRepo.Upsert(&row); err != nil {
			return err
		}
	}

	snapshot := &models.EquitySnapshot{
		VersionID:     run.version.ID,
		Ts:            now.Truncate(time.Minute),
		Equity:        run.led.Equity(marks),
		Cash:          run.led.Cash(),
		UnrealizedPnL: run.led.UnrealizedPnL(marks),
		RealizedPnL:   run.led.RealizedPnL(),
		Fees:          run.led.Fees(),
		Funding:       run.led.Funding(),
	}
	return w.snapshotRepo.Upsert(snapshot)
}
