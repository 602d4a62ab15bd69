package loaders

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/scene"
)

type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string, params any) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	name, mat, err := parseAMT(bufio.NewScanner(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Resource{
		Name:     name,
		FullPath: path,
		Type:     ResourceTypeMaterial,
		DataSize: 48,
		Data:     mat,
	}, nil
}

func (ml *MaterialLoader) Unload(*Resource) error {
	return nil
}

// parseAMT reads "key = value" material files.
func parseAMT(scanner *bufio.Scanner) (string, scene.Material, error) {
	name := ""
	mat := scene.DefaultMaterial()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		// Split key-value pairs by the first "=" sign
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			core.LogWarn("skipping invalid material line", "line", line)
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		var err error
		switch key {
		case "name":
			name = value
		case "albedo":
			var v []float32
			if v, err = parseFloats(strings.Fields(value), 4); err == nil {
				mat.Albedo = mgl32.Vec4{v[0], v[1], v[2], v[3]}
			}
		case "emission":
			var v []float32
			if v, err = parseFloats(strings.Fields(value), 3); err == nil {
				mat.Emission = mgl32.Vec3{v[0], v[1], v[2]}
			}
		case "roughness":
			mat.Roughness, err = parseUnit(value)
		case "metallic":
			mat.Metallic, err = parseUnit(value)
		case "albedo_map":
			mat.TextureMask |= scene.TextureAlbedo
		case "normal_map":
			mat.TextureMask |= scene.TextureNormal
		case "roughness_map":
			mat.TextureMask |= scene.TextureRoughness
		case "metallic_map":
			mat.TextureMask |= scene.TextureMetallic
		case "emissive_map":
			mat.TextureMask |= scene.TextureEmissive
		default:
			core.LogWarn("unknown material key, skipping", "key", key)
		}
		if err != nil {
			return "", mat, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", mat, err
	}
	if name == "" {
		return "", mat, fmt.Errorf("material name is required")
	}
	for i := 0; i < 4; i++ {
		if mat.Albedo[i] < 0 || mat.Albedo[i] > 1 {
			return "", mat, fmt.Errorf("albedo values must be between 0.0 and 1.0")
		}
	}
	return name, mat, nil
}

func parseUnit(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("%v is outside [0, 1]", f)
	}
	return float32(f), nil
}
