package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

type ShapeType string

const (
	ShapeLine   ShapeType = "line"
	ShapeRect   ShapeType = "rect"
	ShapeCircle ShapeType = "circle"
	ShapeText   ShapeType = "text"
)

const (
	MaxShapeIdLength = 64
	MaxLinePoints    = 10000
	MaxTextLength    = 10000
	maxStyleLength   = 64
)

var (
	ErrUnknownShapeType = errors.New("unknown shape type")
	ErrInvalidShape     = errors.New("invalid shape")
)

// Shape is implemented by *LineShape, *RectShape, *CircleShape and *TextShape.
type Shape interface {
	ShapeId() string
	ShapeType() ShapeType
	Validate() error
	Clone() Shape
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LineShape struct {
	Id          string    `json:"id"`
	Type        ShapeType `json:"type"`
	Points      []Point   `json:"points"`
	Color       string    `json:"color"`
	StrokeWidth float64   `json:"strokeWidth"`
	Opacity     float64   `json:"opacity"`
}

type RectShape struct {
	Id          string    `json:"id"`
	Type        ShapeType `json:"type"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Color       string    `json:"color"`
	FillColor   string    `json:"fillColor"`
	StrokeWidth float64   `json:"strokeWidth"`
	Opacity     float64   `json:"opacity"`
	Rotation    float64   `json:"rotation"`
	IsFilled    bool      `json:"isFilled"`
}

type CircleShape struct {
	Id          string    `json:"id"`
	Type        ShapeType `json:"type"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Radius      float64   `json:"radius"`
	Color       string    `json:"color"`
	FillColor   string    `json:"fillColor"`
	StrokeWidth float64   `json:"strokeWidth"`
	Opacity     float64   `json:"opacity"`
	Rotation    float64   `json:"rotation"`
	IsFilled    bool      `json:"isFilled"`
}

type TextShape struct {
	Id         string     `json:"id"`
	Type       ShapeType  `json:"type"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Text       string     `json:"text"`
	Color      string     `json:"color"`
	FontSize   float64    `json:"fontSize"`
	FontWeight FontWeight `json:"fontWeight"`
	FontFamily string     `json:"fontFamily"`
	Rotation   float64    `json:"rotation"`
	Width      *float64   `json:"width,omitempty"`
	Height     *float64   `json:"height,omitempty"`
	Opacity    float64    `json:"opacity"`
}

// FontWeight is either a number (400, 700) or a keyword ("bold").
// Numbers survive a round trip as numbers.
type FontWeight string

func (w FontWeight) MarshalJSON() ([]byte, error) {
	if w == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(w), 64); err == nil {
		return []byte(w), nil
	}
	return json.Marshal(string(w))
}

func (w *FontWeight) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = FontWeight(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("fontWeight must be a number or string: %w", err)
	}
	*w = FontWeight(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (l *LineShape) ShapeId() string        { return l.Id }
func (l *LineShape) ShapeType() ShapeType   { return ShapeLine }
func (r *RectShape) ShapeId() string        { return r.Id }
func (r *RectShape) ShapeType() ShapeType   { return ShapeRect }
func (c *CircleShape) ShapeId() string      { return c.Id }
func (c *CircleShape) ShapeType() ShapeType { return ShapeCircle }
func (t *TextShape) ShapeId() string        { return t.Id }
func (t *TextShape) ShapeType() ShapeType   { return ShapeText }

// The type tag is forced on output so hand-built shapes never leave without one.

func (l LineShape) MarshalJSON() ([]byte, error) {
	type alias LineShape
	a := alias(l)
	a.Type = ShapeLine
	if a.Points == nil {
		a.Points = []Point{}
	}
	return json.Marshal(a)
}

func (r RectShape) MarshalJSON() ([]byte, error) {
	type alias RectShape
	a := alias(r)
	a.Type = ShapeRect
	return json.Marshal(a)
}

func (c CircleShape) MarshalJSON() ([]byte, error) {
	type alias CircleShape
	a := alias(c)
	a.Type = ShapeCircle
	return json.Marshal(a)
}

func (t TextShape) MarshalJSON() ([]byte, error) {
	type alias TextShape
	a := alias(t)
	a.Type = ShapeText
	return json.Marshal(a)
}

func (l *LineShape) Clone() Shape {
	c := *l
	c.Points = append([]Point(nil), l.Points...)
	return &c
}

func (r *RectShape) Clone() Shape {
	c := *r
	return &c
}

func (c *CircleShape) Clone() Shape {
	cc := *c
	return &cc
}

func (t *TextShape) Clone() Shape {
	c := *t
	if t.Width != nil {
		w := *t.Width
		c.Width = &w
	}
	if t.Height != nil {
		h := *t.Height
		c.Height = &h
	}
	return &c
}

func (l *LineShape) Validate() error {
	if err := validateCommon(l.Id, l.Opacity, l.StrokeWidth, l.Color); err != nil {
		return err
	}
	if len(l.Points) > MaxLinePoints {
		return fmt.Errorf("%w: line has more than %d points", ErrInvalidShape, MaxLinePoints)
	}
	for _, p := range l.Points {
		if !finite(p.X, p.Y) {
			return fmt.Errorf("%w: point is not finite", ErrInvalidShape)
		}
	}
	return nil
}

func (r *RectShape) Validate() error {
	if err := validateCommon(r.Id, r.Opacity, r.StrokeWidth, r.Color, r.FillColor); err != nil {
		return err
	}
	if !finite(r.X, r.Y, r.Width, r.Height, r.Rotation) {
		return fmt.Errorf("%w: geometry is not finite", ErrInvalidShape)
	}
	return nil
}

func (c *CircleShape) Validate() error {
	if err := validateCommon(c.Id, c.Opacity, c.StrokeWidth, c.Color, c.FillColor); err != nil {
		return err
	}
	if !finite(c.X, c.Y, c.Radius, c.Rotation) {
		return fmt.Errorf("%w: geometry is not finite", ErrInvalidShape)
	}
	if c.Radius < 0 {
		return fmt.Errorf("%w: negative radius", ErrInvalidShape)
	}
	return nil
}

func (t *TextShape) Validate() error {
	if err := validateCommon(t.Id, t.Opacity, 0, t.Color, t.FontFamily, string(t.FontWeight)); err != nil {
		return err
	}
	if len(t.Text) > MaxTextLength {
		return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidShape, MaxTextLength)
	}
	if !finite(t.X, t.Y, t.FontSize, t.Rotation) || t.FontSize < 0 {
		return fmt.Errorf("%w: invalid text geometry", ErrInvalidShape)
	}
	if (t.Width != nil && *t.Width < 0) || (t.Height != nil && *t.Height < 0) {
		return fmt.Errorf("%w: negative text box", ErrInvalidShape)
	}
	return nil
}

func validateCommon(id string, opacity float64, strokeWidth float64, styles ...string) error {
	if id == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidShape)
	}
	if len(id) > MaxShapeIdLength {
		return fmt.Errorf("%w: id longer than %d", ErrInvalidShape, MaxShapeIdLength)
	}
	if !finite(opacity, strokeWidth) || opacity < 0 || opacity > 1 {
		return fmt.Errorf("%w: opacity out of range", ErrInvalidShape)
	}
	if strokeWidth < 0 {
		return fmt.Errorf("%w: negative stroke width", ErrInvalidShape)
	}
	for _, s := range styles {
		if len(s) > maxStyleLength {
			return fmt.Errorf("%w: style value too long", ErrInvalidShape)
		}
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DecodeShape reads one shape object, dispatching on its "type" field.
// Unknown fields (e.g. a roomId riding along) are ignored.
func DecodeShape(data []byte) (Shape, error) {
	var tag struct {
		Type ShapeType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}

	var s Shape
	switch tag.Type {
	case ShapeLine:
		s = &LineShape{}
	case ShapeRect:
		s = &RectShape{}
	case ShapeCircle:
		s = &CircleShape{}
	case ShapeText:
		s = &TextShape{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShapeType, tag.Type)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeShapes reads a JSON array of shapes. One bad entry fails the whole array.
func DecodeShapes(data []byte) ([]Shape, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	shapes := make([]Shape, 0, len(raws))
	for i, raw := range raws {
		s, err := DecodeShape(raw)
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

// CloneShapes deep-copies a shape slice.
func CloneShapes(shapes []Shape) []Shape {
	out := make([]Shape, len(shapes))
	for i, s := range shapes {
		out[i] = s.Clone()
	}
	return out
}
