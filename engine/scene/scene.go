// Package scene holds the editable world the renderer draws: renderable
// objects, lights, the camera and the environment image.
package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// DefaultQueueSize bounds the edits that may be queued between two frames.
const DefaultQueueSize = 256

type requestKind uint8

const (
	requestAdd requestKind = iota
	requestRemove
	requestTransform
)

type request struct {
	kind      requestKind
	object    *RenderableObject
	index     int
	transform mgl32.Mat4
}

// Scene is edited from the frame loop goroutine. Object additions, removals
// and transform edits are queued and take effect at the next ApplyPending,
// which runs once per frame after the frame slot is free.
type Scene struct {
	loaders Loaders

	objects     []*RenderableObject
	lights      []Light
	camera      *Camera
	environment string

	queue   *containers.RingQueue[request]
	tracker ChangeTracker
}

func New(loaders Loaders) *Scene {
	return &Scene{
		loaders: loaders,
		camera:  NewCamera(),
		queue:   containers.NewRingQueue[request](DefaultQueueSize),
	}
}

func (s *Scene) Camera() *Camera {
	return s.camera
}

// Objects returns the applied object list. Index i matches instance i of the
// renderer.
func (s *Scene) Objects() []*RenderableObject {
	return s.objects
}

func (s *Scene) Lights() []Light {
	return s.lights
}

// Environment is the path of the skybox image, empty when none is set.
func (s *Scene) Environment() string {
	return s.environment
}

func (s *Scene) enqueue(r request) error {
	if err := s.queue.Enqueue(r); err != nil {
		return fmt.Errorf("scene edit rejected: %w", err)
	}
	return nil
}

// Add loads the mesh at meshPath and queues a default object for it.
func (s *Scene) Add(meshPath string) error {
	obj, err := Build(KindObject, ObjectParams{MeshPath: meshPath}, s.loaders)
	if err != nil {
		core.LogError("failed to add object", "mesh", meshPath, "err", err)
		return err
	}
	return s.AddObject(obj)
}

// AddAsync loads the mesh at meshPath in the background and queues the
// object once the load completes.
func (s *Scene) AddAsync(meshPath string) error {
	if s.loaders.Background == nil {
		return s.Add(meshPath)
	}
	load := func() (any, error) {
		return Build(KindObject, ObjectParams{MeshPath: meshPath}, s.loaders)
	}
	done := func(res any, err error) {
		if err != nil {
			core.LogError("failed to add object", "mesh", meshPath, "err", err)
			return
		}
		if err := s.AddObject(res.(*RenderableObject)); err != nil {
			core.LogError("failed to queue object", "mesh", meshPath, "err", err)
		}
	}
	return s.loaders.Background.Go("load "+meshPath, load, done)
}

// AddObject queues obj to be appended to the object list.
func (s *Scene) AddObject(obj *RenderableObject) error {
	return s.enqueue(request{kind: requestAdd, object: obj})
}

// Spawn runs the kind factory. Renderable kinds are queued for addition,
// lights are added immediately and a skybox replaces the environment image.
func (s *Scene) Spawn(kind ObjectKind, p ObjectParams) error {
	switch kind {
	case KindLight:
		return s.AddLight(p.Light)
	case KindSkybox:
		s.SetEnvironment(p.EnvironmentPath)
		return nil
	}
	obj, err := Build(kind, p, s.loaders)
	if err != nil {
		return err
	}
	return s.AddObject(obj)
}

// Remove queues the removal of the object at index. An index out of range
// when the edit is applied is ignored.
func (s *Scene) Remove(index int) error {
	return s.enqueue(request{kind: requestRemove, index: index})
}

// SetTransform queues a new world transform for the object at index.
func (s *Scene) SetTransform(index int, m mgl32.Mat4) error {
	return s.enqueue(request{kind: requestTransform, index: index, transform: m})
}

func (s *Scene) AddLight(l Light) error {
	if len(s.lights) >= MaxLights {
		return fmt.Errorf("scene already has %d lights", MaxLights)
	}
	s.lights = append(s.lights, l)
	s.tracker.lights = true
	return nil
}

func (s *Scene) SetEnvironment(path string) {
	if s.environment == path {
		return
	}
	s.environment = path
	s.tracker.environment = true
}

// Animate advances every animated object by dt seconds.
func (s *Scene) Animate(dt float64) {
	for _, obj := range s.objects {
		if obj.Animation == nil || obj.Animation.Speed == 0 {
			continue
		}
		angle := obj.Animation.Speed * float32(dt)
		obj.Transform = obj.Transform.Mul4(mgl32.HomogRotate3D(angle, obj.Animation.Axis.Normalize()))
		s.tracker.markMoved(obj)
	}
}

// ApplyPending applies every queued edit in order and returns what changed
// since the previous call.
func (s *Scene) ApplyPending() Changes {
	for _, r := range s.queue.Drain() {
		switch r.kind {
		case requestAdd:
			s.objects = append(s.objects, r.object)
			s.tracker.recordEdit(Edit{Kind: EditAdd, Index: len(s.objects) - 1, Object: r.object})
		case requestRemove:
			if r.index < 0 || r.index >= len(s.objects) {
				core.LogWarn("ignoring removal out of range", "index", r.index, "objects", len(s.objects))
				continue
			}
			obj := s.objects[r.index]
			obj.Deleted = true
			copy(s.objects[r.index:], s.objects[r.index+1:])
			s.objects[len(s.objects)-1] = nil
			s.objects = s.objects[:len(s.objects)-1]
			s.tracker.recordEdit(Edit{Kind: EditRemove, Index: r.index, Object: obj})
		case requestTransform:
			if r.index < 0 || r.index >= len(s.objects) {
				core.LogWarn("ignoring transform out of range", "index", r.index, "objects", len(s.objects))
				continue
			}
			s.objects[r.index].Transform = r.transform
			s.tracker.markMoved(s.objects[r.index])
		}
	}
	return s.tracker.take(s.objects, s.camera.takeDirty())
}
