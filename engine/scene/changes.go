package scene

type EditKind uint8

const (
	EditAdd EditKind = iota
	EditRemove
)

// Edit is one applied topology change. Index is the object's position at the
// time the edit was applied.
type Edit struct {
	Kind   EditKind
	Index  int
	Object *RenderableObject
}

// Changes is everything that happened to the scene since the previous
// ApplyPending.
type Changes struct {
	// Edits are in application order.
	Edits []Edit
	// Moved lists the final indices of objects whose transform changed.
	Moved []int

	TopologyChanged    bool
	TransformChanged   bool
	CameraChanged      bool
	LightsChanged      bool
	EnvironmentChanged bool
}

// InstancesChanged reports whether the top-level structure must be refreshed.
func (c *Changes) InstancesChanged() bool {
	return c.TopologyChanged || c.TransformChanged
}

// Any reports whether anything affecting the image changed.
func (c *Changes) Any() bool {
	return c.InstancesChanged() || c.CameraChanged || c.LightsChanged || c.EnvironmentChanged
}

// ChangeTracker accumulates changes between two frames.
type ChangeTracker struct {
	edits       []Edit
	moved       map[*RenderableObject]struct{}
	lights      bool
	environment bool
}

func (t *ChangeTracker) recordEdit(e Edit) {
	t.edits = append(t.edits, e)
}

func (t *ChangeTracker) markMoved(obj *RenderableObject) {
	if t.moved == nil {
		t.moved = make(map[*RenderableObject]struct{})
	}
	t.moved[obj] = struct{}{}
}

// take returns the accumulated changes resolved against objects and resets
// the tracker.
func (t *ChangeTracker) take(objects []*RenderableObject, cameraMoved bool) Changes {
	c := Changes{
		Edits:              t.edits,
		TopologyChanged:    len(t.edits) > 0,
		CameraChanged:      cameraMoved,
		LightsChanged:      t.lights,
		EnvironmentChanged: t.environment,
	}
	for i, obj := range objects {
		if _, ok := t.moved[obj]; ok {
			c.Moved = append(c.Moved, i)
		}
	}
	c.TransformChanged = len(c.Moved) > 0

	t.edits = nil
	t.moved = nil
	t.lights = false
	t.environment = false
	return c
}
