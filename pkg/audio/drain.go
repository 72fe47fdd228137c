package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it on an abandoned stream so the producing goroutine can finish and
// close its channel.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
