package queue

// Option configures a queue lane.
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity sets the maximum capacity of each lane.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}
