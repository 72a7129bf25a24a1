package dedupe

// Option applies a configuration option to the deduper.
type Option func(*window)

// WithMaxSize sets how many ids are remembered.
// A value <= 0 remembers every id.
func WithMaxSize(maxSize int) Option {
	return func(d *window) {
		d.maxSize = maxSize
	}
}
