package playback

// ErrorCode classifies a failure reported by a [Handle] while loading or
// rendering a clip. The codes mirror the media error taxonomy of the
// detection server's web clients so that both surfaces show the same
// messages.
type ErrorCode int

const (
	// ErrCodeUnknown is any failure that does not fit a more specific code.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeAborted means the load was cancelled before completing,
	// typically because a different clip was requested.
	ErrCodeAborted

	// ErrCodeNetwork means the clip could not be fetched from the server.
	ErrCodeNetwork

	// ErrCodeDecode means the clip was fetched but could not be decoded.
	ErrCodeDecode

	// ErrCodeSourceUnsupported means the server refused to serve the clip
	// or served something that is not an audio resource.
	ErrCodeSourceUnsupported
)

// Message returns the fixed user-facing message for the code.
func (c ErrorCode) Message() string {
	switch c {
	case ErrCodeAborted:
		return "Audio playback was aborted"
	case ErrCodeNetwork:
		return "Network error while loading audio"
	case ErrCodeDecode:
		return "Audio format not supported"
	case ErrCodeSourceUnsupported:
		return "Audio source not supported"
	default:
		return "Unknown audio error"
	}
}

// String returns the code's short identifier, suitable for metric attributes
// and log fields.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeAborted:
		return "aborted"
	case ErrCodeNetwork:
		return "network"
	case ErrCodeDecode:
		return "decode"
	case ErrCodeSourceUnsupported:
		return "source_unsupported"
	default:
		return "unknown"
	}
}

// Events is the sink through which a [Handle] implementation reports
// lifecycle events back to its owner (the [Binder]). Any field may be nil.
//
// Implementations may invoke the callbacks from internal goroutines; the
// binder serialises its own state, so no ordering guarantee beyond
// per-handle causality (Load before OnReady, OnReady before OnEnded) is
// required.
type Events struct {
	// OnReady fires when the most recently loaded clip is decoded and can
	// be played.
	OnReady func()

	// OnEnded fires when the current clip finishes rendering naturally.
	OnEnded func()

	// OnError fires when loading or rendering fails. Events for a load that
	// has already been superseded by a newer Load call must not be
	// delivered.
	OnError func(ErrorCode)
}

// Handle is the audio backend capability: one live rendering resource able
// to play a single clip at a time.
//
// A Handle is exclusively owned by the binder instance that created it and
// is registered with the [Coordinator] for the toggle (pause/resume) path.
// Implementations live in subpackages (see playback/speaker for the real
// sound-device backend and playback/mock for the test double).
type Handle interface {
	// Load begins fetching and decoding the clip at url, replacing any
	// previously loaded clip. Load never blocks; completion is signalled
	// via [Events.OnReady] or [Events.OnError].
	Load(url string)

	// Play starts or resumes rendering of the loaded clip. It returns an
	// error when rendering cannot start (no clip loaded, output device
	// rejected the stream).
	Play() error

	// Pause suspends rendering without discarding position.
	Pause()

	// SeekStart rewinds the loaded clip to its beginning.
	SeekStart()
}
