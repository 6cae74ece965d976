package event

// Publisher broadcasts events to every connected frontend client.
// Subsystems hold this instead of the concrete hub so tests can
// capture what they emit.
type Publisher interface {
	Publish(Event)
}
