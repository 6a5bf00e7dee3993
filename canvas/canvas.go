// Package canvas holds the ordered, id-unique shape list that both the server
// room and the client replica mutate. Later entries render on top.
package canvas

import (
	"encoding/json"

	"github.com/zlnvch/holoboard/models"
)

type Canvas struct {
	shapes []models.Shape
	index  map[string]int
	limit  int

	// sizes holds each shape's encoded length plus a separator byte.
	sizes    map[string]int
	bytes    int
	maxBytes int
}

// New returns an empty canvas that holds at most limit shapes (0 = unbounded).
func New(limit int) *Canvas {
	return NewBounded(limit, 0)
}

// NewBounded also caps the encoded size of the whole list at maxBytes
// (0 = unbounded), so a snapshot always fits in one frame.
func NewBounded(limit, maxBytes int) *Canvas {
	return &Canvas{
		index:    make(map[string]int),
		sizes:    make(map[string]int),
		limit:    limit,
		maxBytes: maxBytes,
	}
}

func (c *Canvas) Len() int {
	return len(c.shapes)
}

// Bytes is the encoded size of the list's shapes. Only a bounded canvas
// keeps count.
func (c *Canvas) Bytes() int {
	return c.bytes
}

func (c *Canvas) fits(delta int) bool {
	return c.maxBytes <= 0 || c.bytes+delta <= c.maxBytes
}

// sizeOf is v's encoded length plus a separator, or 0 on an unbounded canvas.
func (c *Canvas) sizeOf(v any) (int, bool) {
	if c.maxBytes <= 0 {
		return 0, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, false
	}
	return len(raw) + 1, true
}

func (c *Canvas) Full() bool {
	return c.limit > 0 && len(c.shapes) >= c.limit
}

func (c *Canvas) Get(id string) (models.Shape, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return c.shapes[i], true
}

func (c *Canvas) Last() (models.Shape, bool) {
	if len(c.shapes) == 0 {
		return nil, false
	}
	return c.shapes[len(c.shapes)-1], true
}

// Append adds s on top. It is a no-op returning false when the id is already
// present or the canvas is full.
func (c *Canvas) Append(s models.Shape) bool {
	if _, ok := c.index[s.ShapeId()]; ok {
		return false
	}
	if c.Full() {
		return false
	}
	size, ok := c.sizeOf(s)
	if !ok || !c.fits(size) {
		return false
	}
	c.index[s.ShapeId()] = len(c.shapes)
	c.shapes = append(c.shapes, s)
	c.sizes[s.ShapeId()] = size
	c.bytes += size
	return true
}

// AppendPoint extends the line with the given id. Anything that is not a line,
// a line already at the point limit, or a point past the byte budget is
// left untouched.
func (c *Canvas) AppendPoint(id string, p models.Point) bool {
	s, ok := c.Get(id)
	if !ok {
		return false
	}
	line, ok := s.(*models.LineShape)
	if !ok || len(line.Points) >= models.MaxLinePoints {
		return false
	}
	size, _ := c.sizeOf(p)
	if !c.fits(size) {
		return false
	}
	line.Points = append(line.Points, p)
	c.sizes[id] += size
	c.bytes += size
	return true
}

// Upsert replaces the shape with the same id in place, keeping its z-order,
// or appends it when absent. Returns false when the canvas is full or the
// new version would not fit the byte budget.
func (c *Canvas) Upsert(s models.Shape) bool {
	i, ok := c.index[s.ShapeId()]
	if !ok {
		return c.Append(s)
	}
	size, ok := c.sizeOf(s)
	old := c.sizes[s.ShapeId()]
	if !ok || !c.fits(size-old) {
		return false
	}
	c.shapes[i] = s
	c.sizes[s.ShapeId()] = size
	c.bytes += size - old
	return true
}

func (c *Canvas) Delete(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.shapes = append(c.shapes[:i], c.shapes[i+1:]...)
	delete(c.index, id)
	c.bytes -= c.sizes[id]
	delete(c.sizes, id)
	for j := i; j < len(c.shapes); j++ {
		c.index[c.shapes[j].ShapeId()] = j
	}
	return true
}

// Replace discards the current contents and installs shapes in order.
// When an id repeats, the first occurrence wins. Returns the number of
// entries dropped (duplicates or overflow).
func (c *Canvas) Replace(shapes []models.Shape) int {
	c.shapes = make([]models.Shape, 0, len(shapes))
	c.index = make(map[string]int, len(shapes))
	dropped := 0
	for _, s := range shapes {
		if !c.Append(s) {
			dropped++
		}
	}
	return dropped
}

func (c *Canvas) Clear() {
	c.shapes = nil
	c.index = make(map[string]int)
	c.sizes = make(map[string]int)
	c.bytes = 0
}

// Snapshot returns the current order. The slice is fresh but the shapes are
// shared, so callers must serialise it before the next mutation or Clone it.
func (c *Canvas) Snapshot() []models.Shape {
	out := make([]models.Shape, len(c.shapes))
	copy(out, c.shapes)
	return out
}

func (c *Canvas) Ids() []string {
	ids := make([]string, len(c.shapes))
	for i, s := range c.shapes {
		ids[i] = s.ShapeId()
	}
	return ids
}
