package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const refreshTimeout = 15 * time.Second

// -----------------------------------------------------------------------------
// ActionRelay
// -----------------------------------------------------------------------------

// ActionRelay acknowledges client trading actions, runs them against the
// execution collaborator in the background and reports the outcome to the
// originating connection only.
type ActionRelay struct {
	Config *models.MConfig
	Logger *logger.Logger

	executor   interfaces.IActionExecutor
	dispatcher interfaces.IDispatcher
	sink       interfaces.IEventSink
	refresher  interfaces.IPortfolioRefresher
	metrics    *metrics.Metrics
	clock      clockwork.Clock
	timeout    time.Duration

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewActionRelay(cfg *models.MConfig, log *logger.Logger, executor interfaces.IActionExecutor, dispatcher interfaces.IDispatcher, sink interfaces.IEventSink, m *metrics.Metrics, clock clockwork.Clock) *ActionRelay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &ActionRelay{
		Config:     cfg,
		Logger:     log,
		executor:   executor,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    m,
		clock:      clock,
		timeout:    time.Duration(cfg.Trading.ExecutionTimeoutSeconds) * time.Second,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// SetPortfolioRefresher triggers an out-of-cycle portfolio broadcast after
// every executed action.
func (r *ActionRelay) SetPortfolioRefresher(p interfaces.IPortfolioRefresher) {
	r.refresher = p
}

// -----------------------------------------------------------------------------

// Submit acknowledges req to connID and starts executing it. It returns the
// action id, generated when the client did not supply one. Every submission
// yields exactly one trading_action_received followed by exactly one
// trading_action_result or trading_action_error.
func (r *ActionRelay) Submit(ctx context.Context, connID string, req models.MActionRequest) string {
	if req.ActionID == "" {
		req.ActionID = uuid.NewString()
	}

	r.dispatcher.SendTo(connID, models.NewMessage(models.MsgTradingActionReceived, models.MActionReceived{
		ActionID: req.ActionID,
		Status:   models.ActionStatusReceived,
	}))

	if !r.allow(connID) {
		r.Logger.Warning("Rate limited action %s from %s", req.ActionID, connID)
		r.metrics.Actions.WithLabelValues("rate_limited").Inc()
		r.sendFailure(connID, req.ActionID, "Rate limit exceeded, try again later")
		return req.ActionID
	}

	r.Logger.Info("Action %s (%s) received from %s", req.ActionID, req.Target(), connID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(ctx, connID, req)
	}()
	return req.ActionID
}

// -----------------------------------------------------------------------------

// Forget drops the rate limiter of a closed connection.
func (r *ActionRelay) Forget(connID string) {
	r.limitMu.Lock()
	delete(r.limiters, connID)
	r.limitMu.Unlock()
}

// Wait blocks until every in-flight action has reported its outcome.
func (r *ActionRelay) Wait() {
	r.wg.Wait()
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

func (r *ActionRelay) execute(ctx context.Context, connID string, req models.MActionRequest) {
	ectx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.clock.Now()
	result, err := r.run(ectx, req)
	r.metrics.ActionDuration.Observe(r.clock.Since(start).Seconds())

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Action timed out after %v", r.timeout)
		}
		r.Logger.Error("Action %s failed: %v", req.ActionID, err)
		r.metrics.Actions.WithLabelValues("failed").Inc()
		r.sendFailure(connID, req.ActionID, msg)
		return
	}

	r.metrics.Actions.WithLabelValues("completed").Inc()
	r.dispatcher.SendTo(connID, models.NewMessage(models.MsgTradingActionResult, models.MActionOutcome{
		ActionID: req.ActionID,
		Status:   models.ActionStatusCompleted,
		Result:   result,
	}))

	if !result.Executed {
		r.Logger.Info("Action %s completed without changes", req.ActionID)
		return
	}

	r.Logger.Info("Action %s executed: %s", req.ActionID, req.Target())
	r.publishDecision(connID, req, result)

	if r.refresher != nil {
		rctx, rcancel := context.WithTimeout(ctx, refreshTimeout)
		defer rcancel()
		if err := r.refresher.RefreshPortfolio(rctx); err != nil {
			r.Logger.Warning("Portfolio refresh after action %s failed: %v", req.ActionID, err)
		}
	}
}

// run calls the executor, turning a panic into an action error.
func (r *ActionRelay) run(ctx context.Context, req models.MActionRequest) (result *models.MActionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = helpers.NewActionError(fmt.Sprintf("action %s aborted", req.Target()), fmt.Errorf("panic: %v", p))
		}
	}()

	result, err = r.executor.ExecuteAction(ctx, req)
	if err == nil && result == nil {
		result = &models.MActionResult{}
	}
	return result, err
}

func (r *ActionRelay) publishDecision(connID string, req models.MActionRequest, result *models.MActionResult) {
	details := make(map[string]any, len(result.Details)+1)
	for k, v := range result.Details {
		details[k] = v
	}
	if result.OrderID != "" {
		details["orderId"] = result.OrderID
	}

	decision := models.MTradingDecision{
		ActionID: req.ActionID,
		Action:   req.Action,
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
		Source:   "client:" + connID,
		Details:  details,
	}
	r.sink.Publish(models.MOutboundEvent{
		Topics:  []string{models.TopicTrading},
		Message: models.NewMessage(models.MsgTradingDecision, decision),
	})
}

func (r *ActionRelay) sendFailure(connID, actionID, message string) {
	r.dispatcher.SendTo(connID, models.NewMessage(models.MsgTradingActionError, models.MActionOutcome{
		ActionID: actionID,
		Status:   models.ActionStatusFailed,
		Error:    message,
	}))
}

// -----------------------------------------------------------------------------

func (r *ActionRelay) allow(connID string) bool {
	limit := rate.Inf
	if r.Config.Trading.ActionsPerSecond > 0 {
		limit = rate.Limit(r.Config.Trading.ActionsPerSecond)
	}

	r.limitMu.Lock()
	lim, ok := r.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(limit, r.Config.Trading.ActionBurst)
		r.limiters[connID] = lim
	}
	r.limitMu.Unlock()

	return lim.AllowN(r.clock.Now(), 1)
}
