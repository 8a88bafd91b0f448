package ui

// Config contains window/input/audio settings for the minimal ebiten host.
type Config struct {
	Title           string // window title
	Scale           int    // integer upscaling factor
	AudioStereo     bool   // if true, output true stereo; if false, fold to mono
	AudioBufferMs   int    // player buffer size in ms
	AudioLowLatency bool   // trim the player buffer for lower latency
	UseFetcherBG    bool   // passed to Machine.SetUseFetcherBG, which has no effect
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbemu"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.AudioBufferMs <= 0 {
		c.AudioBufferMs = 40
	}
}
