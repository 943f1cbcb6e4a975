package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersRejected  Counter
	OrdersTimedOut  Counter
	PositionsOpened Counter
	PositionsClosed Counter
	CloseFailed     Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersRejected:  n,
		OrdersTimedOut:  n,
		PositionsOpened: n,
		PositionsClosed: n,
		CloseFailed:     n,
	}
}
