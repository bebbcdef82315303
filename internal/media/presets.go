// Package media streams rendered simulation frames to browsers over
// WebRTC. Each viewer gets its own session: letterbox transform, small
// frame ring, encoder and an H.264 sample track, with signaling carried
// over the media websocket endpoint.
package media

// Preset fixes the outgoing stream geometry and pacing.
type Preset struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// DefaultPresetName is used when an offer names no quality, or an
// unknown one.
const DefaultPresetName = "medium"

var presets = map[string]Preset{
	"low":    {Name: "low", Width: 320, Height: 240, FPS: 15},
	"medium": {Name: "medium", Width: 854, Height: 480, FPS: 24},
	"high":   {Name: "high", Width: 1280, Height: 720, FPS: 24},
	"hd":     {Name: "hd", Width: 1920, Height: 1080, FPS: 20},
}

// PresetFor resolves a quality name, falling back to the default.
func PresetFor(name string) Preset {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets[DefaultPresetName]
}

// PresetNames lists the known qualities.
func PresetNames() []string {
	return []string{"low", "medium", "high", "hd"}
}
