//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Ray tracing stages compiled to SPIR-V next to their sources.
var shaderStages = []string{"raygen.rgen", "miss.rmiss", "closesthit.rchit"}

// Compiles the ray tracing shaders with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima-rt", "."), withStream())
	return err
}

func buildShaders() error {
	for _, stage := range shaderStages {
		src := filepath.Join(shaderDir, stage)
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", src+".spv"), withStream()); err != nil {
			return err
		}
	}
	return nil
}
