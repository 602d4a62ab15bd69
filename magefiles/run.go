//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed with anima.toml.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml"), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Same as engine, with the Khronos validation layer and debug logging.
func (Run) Validate() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml"),
		withEnv("CGO_ENABLED=1", "ANIMA_VALIDATION=1", "ANIMA_LOG_LEVEL=debug"), withStream())
	return err
}
