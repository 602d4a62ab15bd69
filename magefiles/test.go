//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test. None of them needs a GPU.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Runs the ray tracing core tests only.
func (Test) Raytracing() error {
	_, err := executeCmd("go", withArgs("test", "./engine/renderer/raytracing/...", "./engine/renderer/frame/..."), withStream())
	return err
}
