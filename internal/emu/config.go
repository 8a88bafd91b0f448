package emu

// Config holds the options a Machine is constructed with. Machine keeps
// them but none of them changes what it does: Step logs no trace,
// StepFrame runs unthrottled, and the PPU uses one BG renderer whatever
// UseFetcherBG says.
type Config struct {
	Trace        bool // CPU trace flag; stored only, nothing is logged
	LimitFPS     bool // frame-rate limit flag; stored only, StepFrame never sleeps
	UseFetcherBG bool // fetcher/FIFO BG flag; stored only, see Machine.SetUseFetcherBG
}
