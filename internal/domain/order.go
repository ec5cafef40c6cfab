package domain

type OrderType string

const OrderTypeMarket OrderType = "MARKET"

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

type OrderRequest struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Type     OrderType `json:"type"`
	Quantity float64   `json:"quantity"`
}

// OrderResult is what the exchange reports for a placed order.
// AvgPrice is 0 when the exchange did not report executions (simulated fills).
type OrderResult struct {
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Status      OrderStatus `json:"status"`
	ExecutedQty float64     `json:"executed_qty"`
	AvgPrice    float64     `json:"avg_price"`
	Simulated   bool        `json:"simulated"`
}

func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == OrderStatusFilled
}
