package willowmap

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// ViewState is a viewport: the scale (screen pixels per layer unit) and the
// layer-space point at the centre of the screen.
type ViewState struct {
	Scale float64
	X     float64
	Y     float64
}

// Center returns the translation part of v.
func (v ViewState) Center() orb.Point { return orb.Point{v.X, v.Y} }

// NavigationState is a snapshot of the animator.
type NavigationState struct {
	PreviousScale       float64
	CurrentScale        float64
	PreviousTranslation orb.Point
	TargetTranslation   orb.Point
	Running             bool
	ElapsedFraction     float64
}

// NavigationAnimator interpolates the viewport from one ViewState to another
// over a duration. A gween tween from 0 to 1 is the clock; the configured
// easing shapes the fraction before it is applied to scale and translation.
//
// The animator holds no timers of its own: the owner calls Update once per
// frame with the elapsed time.
type NavigationAnimator struct {
	ease       ease.TweenFunc
	onFrame    func(ViewState)
	onComplete func()
	log        zerolog.Logger

	clock    *gween.Tween
	from, to ViewState
	last     ViewState
	fraction float64
	running  bool
}

// NewNavigationAnimator creates an idle animator. fn defaults to linear;
// onFrame and onComplete may be nil.
func NewNavigationAnimator(fn ease.TweenFunc, onFrame func(ViewState), onComplete func(), log zerolog.Logger) *NavigationAnimator {
	if fn == nil {
		fn = ease.Linear
	}
	return &NavigationAnimator{
		ease:       fn,
		onFrame:    onFrame,
		onComplete: onComplete,
		log:        log,
	}
}

// Start begins a run from one view to another. A running animation is
// replaced without completing. A non-positive duration runs the whole
// animation synchronously: one frame at fraction 1, then completion.
func (a *NavigationAnimator) Start(from, to ViewState, duration time.Duration) {
	a.from = from
	a.to = to
	a.last = from
	a.fraction = 0
	a.running = true
	a.run(duration)
}

// Extend substitutes a new target while running. The new run starts at the
// last computed frame, so the viewport never jumps, and the clock restarts
// with the new duration. Extending an idle animator is logged and ignored.
func (a *NavigationAnimator) Extend(to ViewState, duration time.Duration) {
	if !a.running {
		a.log.Warn().Float64("scale", to.Scale).Msg("extend on idle navigation ignored")
		return
	}
	a.from = a.last
	a.to = to
	a.fraction = 0
	a.run(duration)
}

func (a *NavigationAnimator) run(duration time.Duration) {
	if duration <= 0 {
		a.clock = nil
		a.Frame(1)
		a.complete()
		return
	}
	a.clock = gween.New(0, 1, float32(duration.Seconds()), ease.Linear)
}

// Update advances the clock by dt and renders the resulting frame. The run
// completes on the frame that reaches fraction 1.
func (a *NavigationAnimator) Update(dt time.Duration) {
	if !a.running || a.clock == nil {
		return
	}
	cur, finished := a.clock.Update(float32(dt.Seconds()))
	if finished {
		a.Frame(1)
		a.complete()
		return
	}
	a.Frame(float64(cur))
}

// Frame computes and emits the view at fraction (clamped to [0, 1]).
func (a *NavigationAnimator) Frame(fraction float64) ViewState {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	a.fraction = fraction

	t := float64(a.ease(float32(fraction), 0, 1, 1))
	if fraction == 1 {
		t = 1
	}
	v := ViewState{
		Scale: lerp(a.from.Scale, a.to.Scale, t),
		X:     lerp(a.from.X, a.to.X, t),
		Y:     lerp(a.from.Y, a.to.Y, t),
	}
	if math.IsNaN(v.Scale) || math.IsInf(v.Scale, 0) {
		v.Scale = 1
	}
	a.last = v
	if a.onFrame != nil {
		a.onFrame(v)
	}
	return v
}

func (a *NavigationAnimator) complete() {
	a.running = false
	a.clock = nil
	a.fraction = 1
	if a.onComplete != nil {
		a.onComplete()
	}
}

// Cancel stops the run without completing it. It is safe to call when idle.
func (a *NavigationAnimator) Cancel() {
	if !a.running {
		return
	}
	a.running = false
	a.clock = nil
}

// Running reports whether a run is in progress.
func (a *NavigationAnimator) Running() bool { return a.running }

// Current returns the last emitted view.
func (a *NavigationAnimator) Current() ViewState { return a.last }

// State returns a snapshot of the animator.
func (a *NavigationAnimator) State() NavigationState {
	return NavigationState{
		PreviousScale:       a.from.Scale,
		CurrentScale:        a.to.Scale,
		PreviousTranslation: a.from.Center(),
		TargetTranslation:   a.to.Center(),
		Running:             a.running,
		ElapsedFraction:     a.fraction,
	}
}

func lerp(a, b, t float64) float64 {
	switch {
	case a == b || t == 0:
		return a
	case t == 1:
		return b
	}
	return a + (b-a)*t
}
