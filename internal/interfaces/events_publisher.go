package interfaces

// EventPublisher fans domain events out to whatever transport is wired in
// (kafka in production, a no-op in tests). Publishing happens after
// commit and is best-effort; a failed publish never unwinds a committed
// unit of work.
type EventPublisher interface {
	Publish(topic string, event any) error
}
