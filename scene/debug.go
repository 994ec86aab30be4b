package scene

import (
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// overlayRefresh is how often the on-screen statistics are redrawn.
const overlayRefresh = 500 * time.Millisecond

// debugOverlay is a small text panel with FPS and the last frame's counts.
type debugOverlay struct {
	img     *ebiten.Image
	updated time.Time
}

func (s *MapScene) debugLog() {
	st := s.stats
	s.log.Debug().
		Int("containers", st.containers).
		Int("meshes", st.meshes).
		Int("sprites", st.sprites).
		Int("culled", st.culled).
		Int("drawCalls", st.drawCalls).
		Dur("drawTime", st.drawTime).
		Msg("frame")
}

func (s *MapScene) drawOverlay(screen *ebiten.Image) {
	if s.overlay == nil {
		// 160x64 fits five lines of the debug font.
		s.overlay = &debugOverlay{img: ebiten.NewImage(160, 64)}
	}
	o := s.overlay
	if now := time.Now(); now.Sub(o.updated) >= overlayRefresh {
		o.updated = now
		o.img.Clear()
		o.img.Fill(color.RGBA{0, 0, 0, 128})
		st := s.stats
		ebitenutil.DebugPrint(o.img, fmt.Sprintf(
			"FPS: %.1f\nzoom: %.4g\ncontainers: %d\ndraws: %d\nculled: %d",
			ebiten.ActualFPS(), s.camera.Zoom, st.containers, st.drawCalls, st.culled))
	}
	screen.DrawImage(o.img, nil)
}
