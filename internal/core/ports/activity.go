package ports

// ActivitySource is the injected capability that surfaces user interaction
// signals (pointer press/move, key press, scroll, touch start, click in the
// browser original; command invocations in the CLI). The monitor subscribes
// while the session is authenticated and must unsubscribe symmetrically.
type ActivitySource interface {
	// Subscribe returns a channel that receives one value per interaction
	// signal, plus a cancel function that releases the subscription. The
	// channel is closed after cancel returns.
	Subscribe() (<-chan struct{}, func())
}
