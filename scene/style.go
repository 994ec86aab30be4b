package scene

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phanxgames/willowmap"
)

// Color is a straight-alpha RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// premultiplied returns the components as vertex colors expect them.
func (c Color) premultiplied() (r, g, b, a float32) {
	a64 := clamp01(c.A)
	return float32(clamp01(c.R) * a64), float32(clamp01(c.G) * a64), float32(clamp01(c.B) * a64), float32(a64)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseColor parses "#rgb", "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return Color{}, fmt.Errorf("scene: invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("scene: invalid color %q: %w", s, err)
	}
	return Color{
		R: float64(v>>24&0xff) / 255,
		G: float64(v>>16&0xff) / 255,
		B: float64(v>>8&0xff) / 255,
		A: float64(v&0xff) / 255,
	}, nil
}

// Style is how one feature is painted. Widths and radii are in screen
// pixels at the scale the tile is painted for.
type Style struct {
	Fill        Color
	Stroke      Color
	StrokeWidth float64
	PointRadius float64
}

// StyleFunc picks the style of a feature on a layer.
type StyleFunc func(layer string, f *willowmap.Feature) Style

var defaultStyle = Style{
	Fill:        Color{0.55, 0.7, 0.85, 0.6},
	Stroke:      Color{0.2, 0.25, 0.3, 1},
	StrokeWidth: 1.5,
	PointRadius: 3,
}

// DefaultStyle returns a fixed style, overridden per feature by the "fill",
// "stroke", "strokeWidth" and "radius" attributes when present.
func DefaultStyle(_ string, f *willowmap.Feature) Style {
	st := defaultStyle
	if f == nil {
		return st
	}
	if v, ok := f.Attribute("fill"); ok {
		if c, err := ParseColor(fmt.Sprint(v)); err == nil {
			st.Fill = c
		}
	}
	if v, ok := f.Attribute("stroke"); ok {
		if c, err := ParseColor(fmt.Sprint(v)); err == nil {
			st.Stroke = c
		}
	}
	if w, ok := numberAttribute(f, "strokeWidth"); ok {
		st.StrokeWidth = w
	}
	if r, ok := numberAttribute(f, "radius"); ok {
		st.PointRadius = r
	}
	return st
}

func numberAttribute(f *willowmap.Feature, name string) (float64, bool) {
	v, ok := f.Attribute(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, n >= 0
	case int:
		return float64(n), n >= 0
	case string:
		x, err := strconv.ParseFloat(n, 64)
		return x, err == nil && x >= 0
	}
	return 0, false
}
