package loaders

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/scene"
)

type ModelLoader struct{}

func (ml *ModelLoader) Load(path string, params any) (*Resource, error) {
	// Read and parse the model file (Wavefront OBJ)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mesh, err := ParseOBJ(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if mesh.Name == "" {
		mesh.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &Resource{
		Name:     mesh.Name,
		FullPath: path,
		Type:     ResourceTypeMesh,
		DataSize: uint64(len(mesh.Vertices)*scene.VertexStride + len(mesh.Indices)*4),
		Data:     mesh,
	}, nil
}

func (ml *ModelLoader) Unload(*Resource) error {
	return nil
}

type objKey struct {
	v, vt, vn int
}

// ParseOBJ reads positions, texture coordinates, normals and faces.
// Polygons are triangulated as fans; vertices without a normal get the
// average of their faces' normals.
func ParseOBJ(r io.Reader) (*scene.MeshData, error) {
	var (
		positions []mgl32.Vec3
		texcoords []mgl32.Vec2
		normals   []mgl32.Vec3
		mesh      = &scene.MeshData{}
		lookup    = make(map[objKey]uint32)
		generated = make(map[uint32]bool)
	)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		// Skip comments and empty lines
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch fields[0] {
		case "v", "vn":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if fields[0] == "v" {
				positions = append(positions, mgl32.Vec3{v[0], v[1], v[2]})
			} else {
				normals = append(normals, mgl32.Vec3{v[0], v[1], v[2]})
			}
		case "vt":
			v, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			texcoords = append(texcoords, mgl32.Vec2{v[0], v[1]})
		case "o":
			if len(fields) > 1 && mesh.Name == "" {
				mesh.Name = fields[1]
			}
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face with %d vertices", line, len(fields)-1)
			}
			corners := make([]uint32, 0, len(fields)-1)
			for _, f := range fields[1:] {
				key, err := parseFaceVertex(f, len(positions), len(texcoords), len(normals))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx, ok := lookup[key]
				if !ok {
					idx = uint32(len(mesh.Vertices))
					vert := scene.Vertex{Position: positions[key.v]}
					if key.vt >= 0 {
						vert.Texcoord = texcoords[key.vt]
					}
					if key.vn >= 0 {
						vert.Normal = normals[key.vn]
					} else {
						generated[idx] = true
					}
					mesh.Vertices = append(mesh.Vertices, vert)
					lookup[key] = idx
				}
				corners = append(corners, idx)
			}
			for i := 1; i+1 < len(corners); i++ {
				mesh.Indices = append(mesh.Indices, corners[0], corners[i], corners[i+1])
			}
		default:
			// groups, smoothing and material statements carry nothing we use
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(mesh.Indices) == 0 {
		return nil, fmt.Errorf("no faces")
	}

	if len(generated) > 0 {
		for i := 0; i < len(mesh.Indices); i += 3 {
			a, b, c := mesh.Indices[i], mesh.Indices[i+1], mesh.Indices[i+2]
			pa, pb, pc := mesh.Vertices[a].Position, mesh.Vertices[b].Position, mesh.Vertices[c].Position
			n := pb.Sub(pa).Cross(pc.Sub(pa))
			for _, idx := range []uint32{a, b, c} {
				if generated[idx] {
					mesh.Vertices[idx].Normal = mesh.Vertices[idx].Normal.Add(n)
				}
			}
		}
		for idx := range generated {
			if n := mesh.Vertices[idx].Normal; n.Len() > 0 {
				mesh.Vertices[idx].Normal = n.Normalize()
			}
		}
	}
	return mesh, nil
}

func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", fields[i])
		}
		out[i] = float32(f)
	}
	return out, nil
}

// parseFaceVertex parses v, v/vt, v//vn or v/vt/vn into zero-based indices,
// -1 marking an absent component. Negative OBJ indices count from the end.
func parseFaceVertex(s string, nv, nvt, nvn int) (objKey, error) {
	parts := strings.Split(s, "/")
	key := objKey{v: -1, vt: -1, vn: -1}
	resolve := func(text string, count int) (int, error) {
		i, err := strconv.Atoi(text)
		if err != nil {
			return -1, fmt.Errorf("invalid index %q", text)
		}
		if i < 0 {
			i = count + i
		} else {
			i--
		}
		if i < 0 || i >= count {
			return -1, fmt.Errorf("index %s out of range %d", text, count)
		}
		return i, nil
	}

	var err error
	if key.v, err = resolve(parts[0], nv); err != nil {
		return key, err
	}
	if len(parts) > 1 && parts[1] != "" {
		if key.vt, err = resolve(parts[1], nvt); err != nil {
			return key, err
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if key.vn, err = resolve(parts[2], nvn); err != nil {
			return key, err
		}
	}
	return key, nil
}
