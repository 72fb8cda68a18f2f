package engine

// Progress states reported while the engine prepares a model. Downloads
// happen at most once per model; later sessions usually jump straight from
// loading to ready.
const (
	ProgressDownloading = "downloading"
	ProgressLoading     = "loading"
	ProgressWarming     = "warming"
	ProgressReady       = "ready"
	ProgressFailed      = "failed"
)

// Progress is one engine preparation update.
type Progress struct {
	State string
	// Fraction is the completion of the current state in [0, 1], or 0
	// when the engine cannot quantify it.
	Fraction float64
	Detail   string
}
