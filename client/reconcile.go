package client

import "github.com/zlnvch/holoboard/models"

// Reconcile decides the canvas after a join. A non-empty server list always
// wins. An empty server list with a non-empty cache means the server lost
// the room, so the cache is adopted and must be pushed back.
func Reconcile(server []models.Shape, cached []models.Shape) (adopt []models.Shape, push bool) {
	if len(server) > 0 {
		return server, false
	}
	if len(cached) > 0 {
		return cached, true
	}
	return []models.Shape{}, false
}
