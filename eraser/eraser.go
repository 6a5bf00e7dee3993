// Package eraser implements the circular eraser. Rects, circles and text are
// removed whole on contact; lines are cut into the runs that survive.
package eraser

import (
	"math"

	"github.com/zlnvch/holoboard/models"
)

// TextMargin approximates the extent of a text shape around its anchor.
const TextMargin = 20.0

// Result lists what one eraser pass did. Deleted ids must be broadcast
// before Created shapes.
type Result struct {
	Shapes  []models.Shape
	Deleted []string
	Created []models.Shape
}

func (r Result) Modified() bool {
	return len(r.Deleted) > 0
}

// Erase applies the eraser centred on cursor to shapes and returns the new
// list. Input shapes are not mutated. Line fragments take the place of the
// line they came from and get ids from newId.
func Erase(shapes []models.Shape, cursor models.Point, radius float64, newId func() string) Result {
	res := Result{Shapes: make([]models.Shape, 0, len(shapes))}

	for _, shape := range shapes {
		switch s := shape.(type) {
		case *models.LineShape:
			fragments, erased := splitLine(s.Points, cursor, radius)
			if !erased {
				res.Shapes = append(res.Shapes, s)
				continue
			}
			res.Deleted = append(res.Deleted, s.Id)
			for _, pts := range fragments {
				frag := s.Clone().(*models.LineShape)
				frag.Id = newId()
				frag.Points = pts
				res.Shapes = append(res.Shapes, frag)
				res.Created = append(res.Created, frag)
			}

		case *models.RectShape:
			if hitsRect(s, cursor, radius) {
				res.Deleted = append(res.Deleted, s.Id)
				continue
			}
			res.Shapes = append(res.Shapes, s)

		case *models.CircleShape:
			if distance(models.Point{X: s.X, Y: s.Y}, cursor) <= s.Radius+radius {
				res.Deleted = append(res.Deleted, s.Id)
				continue
			}
			res.Shapes = append(res.Shapes, s)

		case *models.TextShape:
			if distance(models.Point{X: s.X, Y: s.Y}, cursor) <= radius+TextMargin {
				res.Deleted = append(res.Deleted, s.Id)
				continue
			}
			res.Shapes = append(res.Shapes, s)

		default:
			res.Shapes = append(res.Shapes, shape)
		}
	}

	return res
}

// hitsRect treats (x, y) as the rectangle centre and ignores rotation.
func hitsRect(r *models.RectShape, cursor models.Point, radius float64) bool {
	distX := math.Abs(cursor.X - r.X)
	distY := math.Abs(cursor.Y - r.Y)
	return distX <= math.Abs(r.Width)/2+radius && distY <= math.Abs(r.Height)/2+radius
}

// splitLine walks the points in drawing order. Points inside the eraser are
// dropped; a segment between two surviving points that still passes through
// the eraser cuts the run between them. Only runs of two or more points
// survive.
func splitLine(points []models.Point, cursor models.Point, radius float64) ([][]models.Point, bool) {
	var (
		runs    [][]models.Point
		current []models.Point
		erased  bool
	)

	flush := func() {
		if len(current) >= 2 {
			runs = append(runs, current)
		}
	}

	for i, p := range points {
		if distance(p, cursor) <= radius {
			erased = true
			flush()
			current = nil
			continue
		}

		current = append(current, p)
		if i == 0 || len(current) < 2 {
			continue
		}

		prev := points[i-1]
		if distance(prev, cursor) > radius && SegmentIntersectsCircle(prev, p, cursor, radius) {
			erased = true
			current = current[:len(current)-1]
			flush()
			current = []models.Point{p}
		}
	}
	flush()

	return runs, erased
}

// SegmentIntersectsCircle solves |p1 + t(p2-p1) - center|^2 = r^2 and reports
// whether a root lies in [0, 1].
func SegmentIntersectsCircle(p1, p2, center models.Point, radius float64) bool {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	fx := p1.X - center.X
	fy := p1.Y - center.Y

	a := dx*dx + dy*dy
	if a == 0 {
		return distance(p1, center) <= radius
	}
	b := 2 * (fx*dx + fy*dy)
	c := fx*fx + fy*fy - radius*radius

	disc := b*b - 4*a*c
	if disc < 0 {
		return false
	}
	sq := math.Sqrt(disc)
	t1 := (-b - sq) / (2 * a)
	t2 := (-b + sq) / (2 * a)
	return (t1 >= 0 && t1 <= 1) || (t2 >= 0 && t2 <= 1)
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
