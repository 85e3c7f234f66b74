// Package geom provides the 2D ground-plane math shared by characters and resources.
package geom

import "math"

// Vec2 is a point on the ground plane. The client renders Y as its Z axis.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Vec2) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// StepToward moves from toward to by at most maxStep and never overshoots.
//
// Postcondition: Distance(result, to) == max(0, Distance(from, to) - maxStep)
// up to floating point error, and the result lies on the segment [from, to].
func StepToward(from, to Vec2, maxStep float64) Vec2 {
	d := Distance(from, to)
	if d == 0 || maxStep <= 0 {
		if maxStep > 0 {
			return to
		}
		return from
	}
	if maxStep >= d {
		return to
	}
	f := maxStep / d
	return Vec2{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
}

// Clamp limits each coordinate of p to [-halfExtent, halfExtent].
func Clamp(p Vec2, halfExtent float64) Vec2 {
	return Vec2{
		X: math.Max(-halfExtent, math.Min(halfExtent, p.X)),
		Y: math.Max(-halfExtent, math.Min(halfExtent, p.Y)),
	}
}

// Within reports whether p lies inside the square of the given half extent.
func Within(p Vec2, halfExtent float64) bool {
	return math.Abs(p.X) <= halfExtent && math.Abs(p.Y) <= halfExtent
}
