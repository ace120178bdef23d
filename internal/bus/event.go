package bus

import "time"

// Event is a notification published on the bus. Account is the connection id
// the event belongs to, or zero for daemon-wide events.
type Event struct {
	Kind      string
	Account   int
	Timestamp time.Time
	Payload   any
}
