package v1

// OrderPlaced is recorded when a customer places an order.
type OrderPlaced struct {
	CustomerID string   `json:"customer_id"`
	Items      []string `json:"items"`
}

// OrderCancelled is recorded when an order is cancelled before shipping.
type OrderCancelled struct {
	Reason string `json:"reason,omitempty"`
}

type internalNote struct {
	Text string
}
