package main

// Rect is an axis-aligned rectangle given by its center and size
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies inside the rectangle
func (r Rect) Contains(px, py float64) bool {
	return px >= r.X-r.Width/2 && px <= r.X+r.Width/2 &&
		py >= r.Y-r.Height/2 && py <= r.Y+r.Height/2
}

// CheckCollision checks if two circles overlap
func CheckCollision(x1, y1, r1, x2, y2, r2 float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	dist2 := dx*dx + dy*dy
	radSum := r1 + r2
	return dist2 <= radSum*radSum
}

// WithinRange checks if two points are at most dist apart
func WithinRange(x1, y1, x2, y2, dist float64) bool {
	return CheckCollision(x1, y1, dist, x2, y2, 0)
}

// CheckCircleRectCollision checks if a circle overlaps a rectangle
func CheckCircleRectCollision(cx, cy, cr float64, r Rect) bool {
	nx := Clamp(cx, r.X-r.Width/2, r.X+r.Width/2)
	ny := Clamp(cy, r.Y-r.Height/2, r.Y+r.Height/2)
	return CheckCollision(cx, cy, cr, nx, ny, 0)
}

// InCircle reports whether a point lies inside (or on) a circle
func InCircle(px, py, cx, cy, radius float64) bool {
	return Distance(px, py, cx, cy) <= radius
}
