package scene

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

type stubMeshes map[string]*MeshData

func (m stubMeshes) LoadMesh(path string) (*MeshData, error) {
	if mesh, ok := m[path]; ok {
		return mesh, nil
	}
	return nil, errors.New("not found")
}

type stubMaterials map[string]Material

func (m stubMaterials) LoadMaterial(path string) (Material, error) {
	if mat, ok := m[path]; ok {
		return mat, nil
	}
	return Material{}, errors.New("not found")
}

func testLoaders() Loaders {
	quad, _ := Primitive(PrimitivePlane, 1)
	return Loaders{
		Meshes:    stubMeshes{"quad.obj": quad},
		Materials: stubMaterials{"lamp.amt": {Albedo: mgl32.Vec4{1, 1, 1, 1}, Emission: mgl32.Vec3{4, 4, 4}}},
	}
}

func TestApplyPendingReportsEdits(t *testing.T) {
	s := New(testLoaders())
	if err := s.Add("quad.obj"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Spawn(KindPrimitive, ObjectParams{Name: "B", Shape: PrimitiveCube}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(s.Objects()) != 0 {
		t.Fatal("edits applied before ApplyPending")
	}

	c := s.ApplyPending()
	if !c.TopologyChanged || len(c.Edits) != 2 || c.Edits[1].Index != 1 || c.Edits[1].Object.Name != "B" {
		t.Fatalf("changes = %+v", c)
	}
	if !c.CameraChanged {
		t.Error("first frame should report the initial camera")
	}

	if c := s.ApplyPending(); c.Any() {
		t.Errorf("idle frame reported %+v", c)
	}
}

func TestAddMoveRemoveInOneFrame(t *testing.T) {
	s := New(testLoaders())
	s.Add("quad.obj")
	s.Add("quad.obj")
	s.ApplyPending()
	a, b := s.Objects()[0], s.Objects()[1]

	s.SetTransform(0, mgl32.Translate3D(1, 0, 0))
	s.SetTransform(1, mgl32.Translate3D(0, 2, 0))
	s.Remove(0)
	c := s.ApplyPending()

	if len(c.Edits) != 1 || c.Edits[0].Kind != EditRemove || c.Edits[0].Object != a {
		t.Fatalf("edits = %+v", c.Edits)
	}
	if !a.Deleted {
		t.Error("removed object not flagged deleted")
	}
	if len(c.Moved) != 1 || c.Moved[0] != 0 || s.Objects()[0] != b {
		t.Errorf("moved = %v, want B at index 0", c.Moved)
	}
	if got := b.Transform.At(1, 3); got != 2 {
		t.Errorf("B y translation = %v", got)
	}
	if !c.TopologyChanged || !c.TransformChanged {
		t.Errorf("flags = %+v", c)
	}
}

func TestRemoveOutOfRangeIsNoop(t *testing.T) {
	s := New(testLoaders())
	s.Add("quad.obj")
	s.ApplyPending()

	s.Remove(3)
	s.Remove(-1)
	s.SetTransform(7, mgl32.Ident4())
	c := s.ApplyPending()
	if c.InstancesChanged() || len(s.Objects()) != 1 {
		t.Errorf("out of range edits changed the scene: %+v", c)
	}
}

func TestAnimateMarksMoved(t *testing.T) {
	s := New(testLoaders())
	spin := &Animation{Axis: mgl32.Vec3{0, 1, 0}, Speed: 1}
	s.Spawn(KindPrimitive, ObjectParams{Shape: PrimitiveCube, Animation: spin})
	s.Spawn(KindPrimitive, ObjectParams{Shape: PrimitivePlane})
	s.ApplyPending()

	s.Animate(0.5)
	c := s.ApplyPending()
	if c.TopologyChanged || len(c.Moved) != 1 || c.Moved[0] != 0 {
		t.Fatalf("changes = %+v", c)
	}
	want := mgl32.HomogRotate3D(0.5, mgl32.Vec3{0, 1, 0})
	if !s.Objects()[0].Transform.ApproxEqual(want) {
		t.Errorf("transform = %v, want %v", s.Objects()[0].Transform, want)
	}
}

func TestQueueFull(t *testing.T) {
	s := New(testLoaders())
	for i := 0; i < DefaultQueueSize; i++ {
		if err := s.Remove(0); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	if err := s.Remove(0); err == nil {
		t.Error("edit beyond the queue capacity accepted")
	}
}

func TestLightsAndEnvironment(t *testing.T) {
	s := New(testLoaders())
	s.ApplyPending()
	for i := 0; i < MaxLights; i++ {
		if err := s.Spawn(KindLight, ObjectParams{Light: Light{Color: mgl32.Vec3{1, 1, 1}, Intensity: 1}}); err != nil {
			t.Fatalf("light %d: %v", i, err)
		}
	}
	if err := s.AddLight(Light{}); err == nil {
		t.Error("light beyond the limit accepted")
	}
	s.Spawn(KindSkybox, ObjectParams{EnvironmentPath: "sky.png"})

	c := s.ApplyPending()
	if !c.LightsChanged || !c.EnvironmentChanged || c.InstancesChanged() {
		t.Errorf("changes = %+v", c)
	}
	if s.Environment() != "sky.png" || len(s.Lights()) != MaxLights {
		t.Errorf("environment %q, %d lights", s.Environment(), len(s.Lights()))
	}
}

func TestBuildKinds(t *testing.T) {
	l := testLoaders()
	tests := []struct {
		name    string
		kind    ObjectKind
		params  ObjectParams
		wantErr bool
		check   func(t *testing.T, o *RenderableObject)
	}{
		{name: "object from path", kind: KindObject, params: ObjectParams{MeshPath: "quad.obj"}, check: func(t *testing.T, o *RenderableObject) {
			if o.Material.Roughness != 1 || o.Mesh == nil {
				t.Errorf("object = %+v", o)
			}
		}},
		{name: "pbr defaults", kind: KindPBRObject, params: ObjectParams{MeshPath: "quad.obj"}, check: func(t *testing.T, o *RenderableObject) {
			if o.Material.Roughness != 0.5 {
				t.Errorf("roughness = %v", o.Material.Roughness)
			}
		}},
		{name: "emissive material", kind: KindPBRObject, params: ObjectParams{MeshPath: "quad.obj", MaterialPath: "lamp.amt"}, check: func(t *testing.T, o *RenderableObject) {
			if !o.Emissive {
				t.Error("emissive material not flagged")
			}
		}},
		{name: "cube", kind: KindPrimitive, params: ObjectParams{Shape: PrimitiveCube}, check: func(t *testing.T, o *RenderableObject) {
			if len(o.Mesh.Vertices) != 24 || len(o.Mesh.Indices) != 36 {
				t.Errorf("cube has %d vertices, %d indices", len(o.Mesh.Vertices), len(o.Mesh.Indices))
			}
		}},
		{name: "missing mesh", kind: KindObject, params: ObjectParams{MeshPath: "nope.obj"}, wantErr: true},
		{name: "no mesh", kind: KindObject, wantErr: true},
		{name: "light", kind: KindLight, wantErr: true},
		{name: "skybox", kind: KindSkybox, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Build(tt.kind, tt.params, l)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if o.ID.String() == "00000000-0000-0000-0000-000000000000" || o.Kind != tt.kind || o.Name == "" {
				t.Errorf("identity = %s %s %q", o.ID, o.Kind, o.Name)
			}
			tt.check(t, o)
		})
	}
}

// inlineBackground runs loads immediately and defers completions until run.
type inlineBackground struct {
	pending []func()
}

func (b *inlineBackground) Go(name string, load func() (any, error), done func(any, error)) error {
	res, err := load()
	b.pending = append(b.pending, func() { done(res, err) })
	return nil
}

func (b *inlineBackground) run() {
	for _, fn := range b.pending {
		fn()
	}
	b.pending = nil
}

func TestAddAsyncQueuesOnCompletion(t *testing.T) {
	bg := &inlineBackground{}
	loaders := testLoaders()
	loaders.Background = bg
	s := New(loaders)

	if err := s.AddAsync("quad.obj"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAsync("missing.obj"); err != nil {
		t.Fatal(err)
	}
	if c := s.ApplyPending(); len(c.Edits) != 0 {
		t.Fatalf("edits before completion: %d", len(c.Edits))
	}

	bg.run()
	c := s.ApplyPending()
	if len(c.Edits) != 1 || c.Edits[0].Kind != EditAdd {
		t.Fatalf("edits = %+v, want one add", c.Edits)
	}
	if len(s.Objects()) != 1 {
		t.Fatalf("objects = %d, want 1", len(s.Objects()))
	}
}

func TestAddAsyncWithoutBackgroundIsSynchronous(t *testing.T) {
	s := New(testLoaders())
	if err := s.AddAsync("quad.obj"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddAsync("missing.obj"); err == nil {
		t.Fatal("missing mesh accepted")
	}
	if c := s.ApplyPending(); len(c.Edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(c.Edits))
	}
}
