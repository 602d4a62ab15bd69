package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params any) (*Resource, error) {
	// Read SPIR-V binary file and return the module bytes
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateSPIRV(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Resource{
		Name:     strings.TrimSuffix(filepath.Base(path), ".spv"),
		FullPath: path,
		Type:     ResourceTypeShader,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (sl *ShaderLoader) Unload(*Resource) error {
	return nil
}

func validateSPIRV(b []byte) error {
	if len(b) < 20 || len(b)%4 != 0 {
		return fmt.Errorf("spir-v module has invalid size %d", len(b))
	}
	if magic := binary.LittleEndian.Uint32(b); magic != SPIRVMagic {
		return fmt.Errorf("bad spir-v magic %#08x", magic)
	}
	return nil
}
