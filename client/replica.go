// Package client is a Go participant for a holoboard room: it keeps a local
// replica of the canvas in step with the server and reconciles it on every
// (re)join.
package client

import (
	"github.com/zlnvch/holoboard/canvas"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
)

// Replica applies server events with the same rules the server uses for the
// authoritative list. It is not safe for concurrent use.
type Replica struct {
	canvas *canvas.Canvas
}

func NewReplica() *Replica {
	return &Replica{canvas: canvas.NewBounded(protocol.MaxCanvasShapes, protocol.MaxCanvasBytes)}
}

// Apply merges one server event and reports whether the canvas changed.
func (r *Replica) Apply(msg protocol.Outbound) bool {
	switch m := msg.(type) {
	case protocol.CanvasState:
		r.canvas.Replace(m.Shapes)
		return true
	case protocol.ShapeRelay:
		if m.Kind == protocol.EventStartDrawing {
			return r.canvas.Append(m.Shape)
		}
		return r.canvas.Upsert(m.Shape)
	case protocol.PointDrawn:
		return r.appendPoint(m.ShapeId, m.Point)
	case protocol.ShapeDeleted:
		return r.canvas.Delete(m.Id)
	case protocol.ClearCanvas:
		r.canvas.Clear()
		return true
	}
	return false
}

// appendPoint targets shapeId, or the top shape when the sender did not say.
func (r *Replica) appendPoint(shapeId string, p models.Point) bool {
	if shapeId == "" {
		last, ok := r.canvas.Last()
		if !ok {
			return false
		}
		shapeId = last.ShapeId()
	}
	return r.canvas.AppendPoint(shapeId, p)
}

func (r *Replica) Append(s models.Shape) bool {
	return r.canvas.Append(s)
}

func (r *Replica) Upsert(s models.Shape) bool {
	return r.canvas.Upsert(s)
}

func (r *Replica) Delete(id string) bool {
	return r.canvas.Delete(id)
}

func (r *Replica) Clear() {
	r.canvas.Clear()
}

func (r *Replica) Replace(shapes []models.Shape) {
	r.canvas.Replace(shapes)
}

func (r *Replica) Get(id string) (models.Shape, bool) {
	return r.canvas.Get(id)
}

func (r *Replica) Len() int {
	return r.canvas.Len()
}

func (r *Replica) AppendPoint(id string, p models.Point) bool {
	return r.canvas.AppendPoint(id, p)
}

// Shapes returns a deep copy of the current list.
func (r *Replica) Shapes() []models.Shape {
	return models.CloneShapes(r.canvas.Snapshot())
}
