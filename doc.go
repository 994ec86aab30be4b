// Package willowmap renders tiled map layers at multiple zoom scales and
// animates navigation between them.
//
// A [RenderCoordinator] owns one scale cache per layer. Each navigation
// picks a tile level for the new scale with [TileLevelFor], requests the
// visible [TileCode]s from a [ScaleRenderer], and swaps the visible scale
// once every tile has resolved and the [NavigationAnimator] has finished.
// Until then the previous scale stays on screen, scaled by the animation.
//
// # Quick start
//
// Drawing goes through a [Surface]; package scene provides one on top of
// [Ebitengine]. The host owns the frame loop and calls Update every tick:
//
//	loop := willowmap.NewLoop()
//	ms := scene.NewMapScene(scene.Options{Width: 1280, Height: 800})
//	coord, _ := willowmap.NewRenderCoordinator(loop, ms, willowmap.Options{
//		Config: willowmap.DefaultConfig(),
//	})
//	coord.AddLayer(&willowmap.Layer{
//		ID:     "roads",
//		Extent: extent,
//		Source: source.NewRemoteSource(source.NewHTTPDispatcher(url)),
//	})
//	coord.NavigateTo(view, scale, 300*time.Millisecond)
//
//	// in ebiten.Game.Update:
//	coord.Update(dt)
//	// in ebiten.Game.Draw:
//	ms.Draw(screen)
//
// # Tiles and features
//
// Level n splits a layer's extent into a 2^n by 2^n grid. A [Feature]
// belongs to the tile holding its first coordinate; [AssignFeatures] keeps
// owned features, records the other tiles they touch as dependents, and
// clips features wider than [DefaultMaxTileScreenPx] on screen around the
// pan origin.
//
// # Threading
//
// Coordinator state lives on a single [Loop]. Fetches run off the loop and
// post their results back with [Loop.Post]; results from cancelled or
// superseded navigations are dropped.
//
// [Ebitengine]: https://ebitengine.org
package willowmap
