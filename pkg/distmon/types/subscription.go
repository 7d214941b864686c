package types

// Predicate reports whether a received Packet is of interest to a Subscription.
type Predicate func(Packet) bool

// Callback is invoked for every Packet matching a Subscription's Predicate.
// It runs on the Dispatcher's receiver goroutine and must not block on
// message I/O; it may acquire engine locks and signal local condition
// variables to hand work back to the calling goroutine.
type Callback func(Packet)

// Subscription pairs a Predicate with the Callback invoked when it matches.
type Subscription struct {
	ID        SubscriptionID
	Predicate Predicate
	Callback  Callback
}
