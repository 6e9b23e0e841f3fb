package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a participant stream is not being
// processed (only one participant feeds the pipeline at a time).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
