package core

// Observer is told about handled commands and published events.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCommand(action Action, code Code)
	ObserveEvent(eventType string, delivered int)
}

type nopObserver struct{}

func (nopObserver) ObserveCommand(Action, Code) {}
func (nopObserver) ObserveEvent(string, int)    {}
