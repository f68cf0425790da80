package order

// Intent is an admitted order awaiting durable persistence. It exists only
// inside the intake queue; the worker either persists it or discards it.
type Intent struct {
	OrderID   uint64
	UserID    int64
	VoucherID uint
	Amount    int64 // cents
}
