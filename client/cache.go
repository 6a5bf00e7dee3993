package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
)

// CanvasCache keeps the last known canvas per room across sessions.
type CanvasCache interface {
	Load(roomId string) ([]models.Shape, error)
	Save(roomId string, shapes []models.Shape) error
}

type MemoryCache struct {
	mu     sync.Mutex
	canvas map[string][]models.Shape
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{canvas: make(map[string][]models.Shape)}
}

func (c *MemoryCache) Load(roomId string) ([]models.Shape, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CloneShapes(c.canvas[roomId]), nil
}

func (c *MemoryCache) Save(roomId string, shapes []models.Shape) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canvas[roomId] = models.CloneShapes(shapes)
	return nil
}

// FileCache stores one JSON array per room under Dir.
type FileCache struct {
	Dir string
}

func (c FileCache) path(roomId string) (string, error) {
	if !protocol.ValidRoomId(roomId) {
		return "", fmt.Errorf("invalid room id %q", roomId)
	}
	return filepath.Join(c.Dir, "canvas-"+roomId+".json"), nil
}

func (c FileCache) Load(roomId string) ([]models.Shape, error) {
	path, err := c.path(roomId)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeShapes(data)
}

func (c FileCache) Save(roomId string, shapes []models.Shape) error {
	path, err := c.path(roomId)
	if err != nil {
		return err
	}
	if shapes == nil {
		shapes = []models.Shape{}
	}
	data, err := json.Marshal(shapes)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
