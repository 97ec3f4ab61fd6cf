// Package order bridges model-issued order confirmations into the external
// cart/order system.
package order

import "context"

// Item is one cart line.
type Item struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	Price     float64  `json:"price,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// Summary describes the current cart without side effects.
type Summary struct {
	ItemCount int     `json:"item_count"`
	Total     float64 `json:"total"`
}

// SubmitResult is the order-submission outcome.
type SubmitResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
}

// Client is the external cart/order collaborator. Only the bridge calls it.
type Client interface {
	SubmitOrder(ctx context.Context, items []Item) (SubmitResult, error)
	ClearCart(ctx context.Context) error
	CartSummary(ctx context.Context) (Summary, error)
}

// Action is a confirmation intent.
type Action string

const (
	ActionCheckout Action = "checkout"
	ActionReview   Action = "review"
	ActionCancel   Action = "cancel"
)

// Valid reports whether a is a known confirmation action.
func (a Action) Valid() bool {
	switch a {
	case ActionCheckout, ActionReview, ActionCancel:
		return true
	}
	return false
}
