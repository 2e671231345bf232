package order

import (
	"context"
	"log/slog"
	"time"
)

// Status is the lifecycle state of an order. Any state may transition to any
// other; only identity transitions are rejected.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	// StatusPublish marks a completed purchase. "complete" and "completed"
	// normalize to it.
	StatusPublish   Status = "publish"
	StatusRefunded  Status = "refunded"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusRevoked   Status = "revoked"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusProcessing: {},
	StatusPublish:    {},
	StatusRefunded:   {},
	StatusFailed:     {},
	StatusAbandoned:  {},
	StatusRevoked:    {},
}

// NormalizeStatus maps the external status vocabulary onto the canonical set.
func NormalizeStatus(s string) (Status, error) {
	if s == "" {
		return "", validationf("empty status")
	}
	if s == "complete" || s == "completed" {
		return StatusPublish, nil
	}
	status := Status(s)
	if _, ok := knownStatuses[status]; !ok {
		return "", validationf("unknown status %q", s)
	}
	return status, nil
}

// TransitionPolicy lets external policy veto a status transition before the
// status write happens; a veto fully cancels the transition, write included.
// Cross-cutting features such as subscriptions hook in here.
type TransitionPolicy interface {
	AllowTransition(ctx context.Context, o *Order, from, to Status) bool
}

// RefundPolicy selects which counter decrements run when an order leaves a
// counted status.
type RefundPolicy interface {
	DecrementStoreEarnings(o *Order) bool
	DecrementCustomerValue(o *Order) bool
	DecrementPurchaseCount(o *Order) bool
}

type allowAll struct{}

func (allowAll) AllowTransition(context.Context, *Order, Status, Status) bool { return true }

type decrementAll struct{}

func (decrementAll) DecrementStoreEarnings(*Order) bool { return true }
func (decrementAll) DecrementCustomerValue(*Order) bool { return true }
func (decrementAll) DecrementPurchaseCount(*Order) bool { return true }

// statusController applies a staged status change during flush: it checks the
// veto, writes the new status, and dispatches the side effect owed to the
// transition, exactly once.
type statusController struct {
	orders  OrderStore
	stats   StatsReconciler
	cache   Cache
	policy  TransitionPolicy
	refunds RefundPolicy

	// strict makes reconciler failures fatal to the transition. The
	// tolerant default mirrors the original system: log and continue.
	strict bool
}

func (c *statusController) apply(ctx context.Context, o *Order) error {
	if o.OldStatus == "" || o.OldStatus == o.Status {
		return nil
	}

	from, to := o.OldStatus, o.Status

	if c.policy != nil && !c.policy.AllowTransition(ctx, o, from, to) {
		slog.InfoContext(ctx, "status transition vetoed",
			"order_id", o.ID, "from", string(from), "to", string(to))
		o.Status = from
		o.OldStatus = ""
		return nil
	}

	status := string(to)
	if err := c.orders.Update(ctx, o.ID, OrderUpdate{Status: &status}); err != nil {
		return persistencef(err, "write status for order %d", o.ID)
	}

	var err error
	switch to {
	case StatusRefunded:
		err = c.processRefund(ctx, o, from)
	case StatusFailed:
		err = c.processFailure(ctx, o)
	case StatusPending, StatusProcessing:
		err = c.processPending(ctx, o, from)
	case StatusPublish, StatusAbandoned, StatusRevoked:
		// Field write only.
	}
	if err != nil {
		if c.strict {
			return err
		}
		slog.WarnContext(ctx, "status side effect failed, continuing",
			"order_id", o.ID, "to", string(to), "error", err)
	}

	o.OldStatus = ""
	return nil
}

// processRefund decrements the counters a completed purchase incremented.
// Orders that never reached a counted status have nothing to undo.
func (c *statusController) processRefund(ctx context.Context, o *Order, from Status) error {
	if from != StatusPublish && from != StatusRevoked {
		return nil
	}
	return c.decrementStats(ctx, o)
}

// processFailure releases discount-code usage so the codes can be redeemed
// again.
func (c *statusController) processFailure(ctx context.Context, o *Order) error {
	for _, code := range o.Discounts {
		if code == "" {
			continue
		}
		if err := c.stats.DecrementDiscountUsage(ctx, code); err != nil {
			return persistencef(err, "decrement usage of discount %q", code)
		}
	}
	return nil
}

// processPending handles a counted order moving back in-process: the same
// decrement as a refund, plus clearing the completion timestamp. The
// in-process guard prevents double-decrementing an order that was already
// pending.
func (c *statusController) processPending(ctx context.Context, o *Order, from Status) error {
	if (from != StatusPublish && from != StatusRevoked) || !o.InProcess() {
		return nil
	}
	if err := c.decrementStats(ctx, o); err != nil {
		return err
	}
	o.DateCompleted = time.Time{}
	var cleared time.Time
	if err := c.orders.Update(ctx, o.ID, OrderUpdate{DateCompleted: &cleared}); err != nil {
		return persistencef(err, "clear completion date for order %d", o.ID)
	}
	return nil
}

func (c *statusController) decrementStats(ctx context.Context, o *Order) error {
	// Undo the per-product counters first.
	for i := range o.Items {
		item := &o.Items[i]
		if err := c.stats.AdjustProductSales(ctx, item.ProductID, -item.Quantity); err != nil {
			return persistencef(err, "decrement sales for product %d", item.ProductID)
		}
		if err := c.stats.AdjustProductEarnings(ctx, item.ProductID, item.earnings().Neg()); err != nil {
			return persistencef(err, "decrement earnings for product %d", item.ProductID)
		}
	}

	if c.refunds.DecrementStoreEarnings(o) {
		if err := c.stats.ApplyStoreEarningsDelta(ctx, o.Total.Neg()); err != nil {
			return persistencef(err, "decrement store earnings for order %d", o.ID)
		}
	}
	if o.CustomerID != 0 {
		if c.refunds.DecrementCustomerValue(o) {
			if err := c.stats.ApplyOrderDelta(ctx, o.CustomerID, o.Total.Neg()); err != nil {
				return persistencef(err, "decrement value for customer %d", o.CustomerID)
			}
		}
		if c.refunds.DecrementPurchaseCount(o) {
			if err := c.stats.AdjustCustomerOrderCount(ctx, o.CustomerID, -1); err != nil {
				return persistencef(err, "decrement purchase count for customer %d", o.CustomerID)
			}
		}
	}

	// The cached period-earnings aggregate is now stale.
	if c.cache != nil {
		if err := c.cache.Delete(ctx, PeriodEarningsKey); err != nil {
			slog.WarnContext(ctx, "failed to invalidate period earnings cache", "error", err)
		}
	}
	return nil
}
