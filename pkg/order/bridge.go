package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tablevox/vox-order/pkg/core"
)

// Outcome is the bridge's result for one confirmation. The session layer
// turns it into user-facing events.
type Outcome struct {
	Action  Action
	OrderID string
	Summary *Summary
}

// Bridge translates confirmation intents into calls against the external
// order collaborator. It performs no retries of its own; failures surface
// to the caller to decide on retry or user notification.
type Bridge struct {
	client Client
	logger *slog.Logger
}

// NewBridge creates a bridge over the external order client.
func NewBridge(client Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, logger: logger}
}

// Confirm executes one confirmation intent. Checkout submits the current
// items exactly once; review computes a summary without side effects;
// cancel clears the cart.
func (b *Bridge) Confirm(ctx context.Context, action Action, items []Item) (Outcome, error) {
	if !action.Valid() {
		return Outcome{}, core.NewBusinessError(fmt.Sprintf("unknown confirmation action %q", action), "unknown_action")
	}

	switch action {
	case ActionCheckout:
		result, err := b.client.SubmitOrder(ctx, items)
		if err != nil {
			return Outcome{}, core.NewConnectionError("submit order", err)
		}
		if !result.Success {
			return Outcome{}, core.NewBusinessError("order submission was rejected", "order_rejected")
		}
		b.logger.Info("order submitted", "order_id", result.OrderID, "items", len(items))
		return Outcome{Action: action, OrderID: result.OrderID}, nil

	case ActionReview:
		summary, err := b.client.CartSummary(ctx)
		if err != nil {
			return Outcome{}, core.NewConnectionError("fetch cart summary", err)
		}
		return Outcome{Action: action, Summary: &summary}, nil

	default: // ActionCancel
		if err := b.client.ClearCart(ctx); err != nil {
			return Outcome{}, core.NewConnectionError("clear cart", err)
		}
		b.logger.Info("cart cleared")
		return Outcome{Action: action}, nil
	}
}
