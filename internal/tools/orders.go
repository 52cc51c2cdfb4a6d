package tools

import (
	"context"
	"fmt"
	"time"
)

type Order struct {
	ID                string
	CustomerID        string
	OrderDate         time.Time
	EstimatedDelivery time.Time
	Status            string
	Items             []string
}

type orderKey struct {
	customerID string
	orderID    string
}

// OrderBook is the order lookup behind check_order_status.
type OrderBook struct {
	orders map[orderKey]Order
	now    func() time.Time
}

func NewOrderBook(now func() time.Time, orders ...Order) *OrderBook {
	if now == nil {
		now = time.Now
	}
	b := &OrderBook{orders: make(map[orderKey]Order, len(orders)), now: now}
	for _, o := range orders {
		b.orders[orderKey{customerID: o.CustomerID, orderID: o.ID}] = o
	}
	return b
}

func MockOrderBook() *OrderBook {
	day := func(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }
	return NewOrderBook(nil,
		Order{ID: "ORD12345", CustomerID: "CUST001", OrderDate: day(time.August, 15), EstimatedDelivery: day(time.September, 5),
			Status: "In Transit", Items: []string{"Wireless Headphones", "USB Cable"}},
		Order{ID: "ORD67890", CustomerID: "CUST002", OrderDate: day(time.August, 20), EstimatedDelivery: day(time.September, 1),
			Status: "Delivered", Items: []string{"Bluetooth Speaker", "Phone Case"}},
		Order{ID: "ORD11111", CustomerID: "CUST003", OrderDate: day(time.August, 25), EstimatedDelivery: day(time.September, 10),
			Status: "Processing", Items: []string{"Laptop Stand", "Wireless Mouse"}},
	)
}

// Lookup returns the order, or a placeholder with status "Order Not Found".
func (b *OrderBook) Lookup(customerID, orderID string) Order {
	if o, ok := b.orders[orderKey{customerID: customerID, orderID: orderID}]; ok {
		return o
	}
	now := b.now()
	return Order{
		ID:                orderID,
		CustomerID:        customerID,
		OrderDate:         now.AddDate(0, 0, -1),
		EstimatedDelivery: now.AddDate(0, 0, 7),
		Status:            "Order Not Found",
	}
}

type OrderStatusArgs struct {
	CustomerID string `json:"customer_id" jsonschema:"description=The unique identifier for the customer"`
	OrderID    string `json:"order_id" jsonschema:"description=The unique identifier for the order"`
}

// RegisterOrderTools adds check_order_status to r.
func RegisterOrderTools(r *Registry, book *OrderBook) error {
	return Register(r, "check_order_status", "Check the status of a customer's order",
		func(_ context.Context, args OrderStatusArgs) (any, error) {
			o := book.Lookup(args.CustomerID, args.OrderID)
			r.logger.Info("order status checked", "customer_id", args.CustomerID, "order_id", args.OrderID, "status", o.Status)
			return fmt.Sprintf("I found your order %s. The status is %s. It was placed on %s and the estimated delivery date is %s.",
				args.OrderID, o.Status, o.OrderDate.Format("January 02, 2006"), o.EstimatedDelivery.Format("January 02, 2006")), nil
		})
}
