package assets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newManager(t *testing.T) (*AssetManager, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "models", "tri.obj"), "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n")
	writeFile(t, filepath.Join(dir, "materials", "red.amt"), "name = red\nalbedo = 1 0 0 1\n")
	writeFile(t, filepath.Join(dir, "README.txt"), "ignored")

	am, err := NewAssetManager()
	if err != nil {
		t.Fatalf("NewAssetManager: %v", err)
	}
	if err := am.Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { am.Close() })
	return am, dir
}

func TestAssetManagerIndexesByExtension(t *testing.T) {
	am, _ := newManager(t)
	if got := am.Count(); got != 2 {
		t.Fatalf("indexed %d assets, want 2", got)
	}
	info, ok := am.Info(filepath.Join("models", "tri.obj"))
	if !ok || info.Type.String() != "mesh" {
		t.Errorf("info = %+v, %v", info, ok)
	}
}

func TestAssetManagerLoadsAndCaches(t *testing.T) {
	am, _ := newManager(t)

	mesh, err := am.LoadMesh(filepath.Join("models", "tri.obj"))
	if err != nil {
		t.Fatalf("LoadMesh: %v", err)
	}
	if len(mesh.Indices) != 3 {
		t.Errorf("indices = %v", mesh.Indices)
	}
	again, err := am.LoadMesh(filepath.Join("models", "tri.obj"))
	if err != nil || again != mesh {
		t.Errorf("second load did not hit the cache (err %v)", err)
	}

	mat, err := am.LoadMaterial(filepath.Join("materials", "red.amt"))
	if err != nil {
		t.Fatalf("LoadMaterial: %v", err)
	}
	if mat.Albedo[0] != 1 || mat.Albedo[1] != 0 {
		t.Errorf("albedo = %v", mat.Albedo)
	}
}

func TestAssetManagerErrors(t *testing.T) {
	am, _ := newManager(t)
	if _, err := am.LoadMesh("models/missing.obj"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("missing mesh err = %v, want ErrAssetNotFound", err)
	}
	if _, err := am.LoadMaterial(filepath.Join("models", "tri.obj")); err == nil {
		t.Error("loading a mesh as a material should fail")
	}
}

func TestAssetManagerReportsChanges(t *testing.T) {
	am, dir := newManager(t)
	if _, err := am.LoadMesh(filepath.Join("models", "tri.obj")); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "models", "tri.obj"), "v 0 0 0\nv 2 0 0\nv 0 2 0\nf 1 2 3\n")

	want := filepath.Join("models", "tri.obj")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case key := <-am.Changes():
			if key != want {
				continue
			}
			// the write may be observed before it completes
			mesh, err := am.LoadMesh(want)
			if err == nil && mesh.Vertices[1].Position[0] == 2 {
				return
			}
		case <-deadline:
			t.Fatal("new contents never loaded")
		}
	}
}
