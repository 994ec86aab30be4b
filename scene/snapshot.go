package scene

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// Snapshot queues a PNG capture of the next drawn frame. The file lands in
// dir as <timestamp>_<label>.png. Failures are logged.
func (s *MapScene) Snapshot(dir, label string) {
	s.snapshots = append(s.snapshots, snapshotRequest{dir: dir, label: label})
}

type snapshotRequest struct {
	dir   string
	label string
}

// flushSnapshots writes every queued snapshot of screen. Draw calls it last.
func (s *MapScene) flushSnapshots(screen *ebiten.Image) {
	if len(s.snapshots) == 0 {
		return
	}
	b := screen.Bounds()
	pixels := make([]byte, 4*b.Dx()*b.Dy())
	screen.ReadPixels(pixels)
	img := unpremultiply(pixels, b.Dx(), b.Dy())

	stamp := time.Now().Format("20060102_150405")
	for _, req := range s.snapshots {
		path, err := writeSnapshot(req, stamp, img)
		if err != nil {
			s.log.Error().Err(err).Str("label", req.label).Msg("snapshot failed")
			continue
		}
		s.log.Info().Str("path", path).Msg("snapshot written")
	}
	s.snapshots = s.snapshots[:0]
}

func writeSnapshot(req snapshotRequest, stamp string, img image.Image) (string, error) {
	if err := os.MkdirAll(req.dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot dir %s: %w", req.dir, err)
	}
	path := filepath.Join(req.dir, stamp+"_"+sanitizeLabel(req.label)+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	return path, f.Close()
}

// unpremultiply converts ebiten's premultiplied RGBA pixels to NRGBA.
func unpremultiply(pixels []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i+3 < len(pixels) && i+3 < len(img.Pix); i += 4 {
		r, g, b, a := pixels[i], pixels[i+1], pixels[i+2], pixels[i+3]
		if a > 0 && a < 255 {
			r = uint8(min(int(r)*255/int(a), 255))
			g = uint8(min(int(g)*255/int(a), 255))
			b = uint8(min(int(b)*255/int(a), 255))
		}
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, a
	}
	return img
}

// sanitizeLabel keeps letters, digits, '-' and '.'; anything else becomes
// '_'. An empty label becomes "map".
func sanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "map"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, label)
}
