package scene

import "testing"

func TestMultiplyAffineIdentity(t *testing.T) {
	m := [6]float64{2, 0, 0, 3, 10, 20}
	if got := multiplyAffine(identityTransform, m); got != m {
		t.Errorf("I*m = %v, want %v", got, m)
	}
	if got := multiplyAffine(m, identityTransform); got != m {
		t.Errorf("m*I = %v, want %v", got, m)
	}
}

func TestInvertAffine(t *testing.T) {
	m := [6]float64{2, 0, 0, -4, 10, 20}
	inv := invertAffine(m)
	got := multiplyAffine(m, inv)
	for i := range got {
		if !approxEqual(got[i], identityTransform[i], epsilon) {
			t.Fatalf("m*inv(m) = %v", got)
		}
	}
	if invertAffine([6]float64{0, 0, 0, 0, 5, 5}) != identityTransform {
		t.Error("singular matrix should invert to identity")
	}
}

func TestWorldTransformFollowsParent(t *testing.T) {
	root := NewContainer("root")
	layer := NewContainer("layer")
	tile := NewContainer("tile")
	root.AddChild(layer)
	layer.AddChild(tile)

	layer.SetPosition(100, 50)
	layer.SetScale(2, 2)
	tile.SetPosition(10, 5)
	tile.SetAlpha(0.5)
	layer.SetAlpha(0.5)
	updateWorldTransform(root, identityTransform, 1, false)

	x, y := tile.LocalToWorld(1, 1)
	if !approxEqual(x, 122, epsilon) || !approxEqual(y, 62, epsilon) {
		t.Errorf("LocalToWorld(1,1) = (%v, %v), want (122, 62)", x, y)
	}
	if !approxEqual(tile.worldAlpha, 0.25, epsilon) {
		t.Errorf("worldAlpha = %v, want 0.25", tile.worldAlpha)
	}

	lx, ly := tile.WorldToLocal(122, 62)
	if !approxEqual(lx, 1, epsilon) || !approxEqual(ly, 1, epsilon) {
		t.Errorf("WorldToLocal = (%v, %v), want (1, 1)", lx, ly)
	}

	// Moving only the parent must still move the child.
	layer.SetPosition(0, 0)
	updateWorldTransform(root, identityTransform, 1, false)
	if x, _ := tile.LocalToWorld(0, 0); !approxEqual(x, 20, epsilon) {
		t.Errorf("after parent move x = %v, want 20", x)
	}
}
