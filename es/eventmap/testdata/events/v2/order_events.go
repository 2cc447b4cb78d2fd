package v2

// OrderPlaced carries line totals since v2.
type OrderPlaced struct {
	CustomerID string           `json:"customer_id"`
	Lines      map[string]int64 `json:"lines"`
	Currency   string           `json:"currency"`
}
