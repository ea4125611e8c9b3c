package framegraph

// Option configures a Builder during creation.
//
// Example:
//
//	b, err := framegraph.New(device, queue,
//	    framegraph.WithMergePolicy(framegraph.MergeAttachments),
//	    framegraph.WithLookahead(8),
//	)
type Option func(*options)

type options struct {
	allocator       Allocator
	mergePolicy     string
	reorder         bool
	lookahead       int
	aliasing        bool
	maxUnusedFrames uint64
	retained        int
	timestamps      bool
	label           string
}

const (
	defaultLookahead       = 4
	defaultMaxUnusedFrames = 8
	defaultRetained        = 64
)

func defaultOptions() options {
	return options{
		mergePolicy:     MergeNever,
		reorder:         true,
		lookahead:       defaultLookahead,
		aliasing:        true,
		maxUnusedFrames: defaultMaxUnusedFrames,
		retained:        defaultRetained,
		timestamps:      true,
		label:           "framegraph",
	}
}

// WithAllocator replaces the default HAL allocator. The builder takes
// ownership and destroys it with the builder.
func WithAllocator(a Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// WithMergePolicy selects a registered render-pass merge policy by name.
// Unknown names fall back to MergeNever.
func WithMergePolicy(name string) Option {
	return func(o *options) {
		o.mergePolicy = name
	}
}

// WithReorder enables or disables greedy re-ordering. When disabled passes
// run in dependency-respecting registration order.
func WithReorder(enabled bool) Option {
	return func(o *options) {
		o.reorder = enabled
	}
}

// WithLookahead sets how many recently scheduled passes the re-ordering
// heuristic compares candidates against. Values below 1 are ignored.
func WithLookahead(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.lookahead = n
		}
	}
}

// WithAliasing enables or disables transient texture aliasing.
func WithAliasing(enabled bool) Option {
	return func(o *options) {
		o.aliasing = enabled
	}
}

// WithMaxUnusedFrames sets after how many frames without use a resource
// is released. Zero keeps resources forever.
func WithMaxUnusedFrames(n uint64) Option {
	return func(o *options) {
		o.maxUnusedFrames = n
	}
}

// WithRetainedAllocations sets how many distinct descriptors the default
// allocator keeps released GPU objects for.
func WithRetainedAllocations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.retained = n
		}
	}
}

// WithTimestamps enables or disables GPU timestamp queries. CPU timings
// are always recorded.
func WithTimestamps(enabled bool) Option {
	return func(o *options) {
		o.timestamps = enabled
	}
}

// WithLabel sets the debug label used for command encoders and query sets.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}
