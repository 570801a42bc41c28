package shaders

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
)

//go:embed quad.wgsl
var QuadWGSL string

//go:embed clustering.wgsl
var ClusteringWGSL string

//go:embed copy_buffer_to_image_3d.wgsl
var CopyBufferToImage3DWGSL string

//go:embed vsm_down_blur.wgsl
var VSMDownBlurWGSL string

//go:embed vsm_up_blur.wgsl
var VSMUpBlurWGSL string

// Library resolves shaders by the names programs refer to them with.
type Library map[string]string

// Builtin returns the shaders of the light passes.
func Builtin() Library {
	return Library{
		"quad":                    QuadWGSL,
		"clustering":              ClusteringWGSL,
		"copy_buffer_to_image_3d": CopyBufferToImage3DWGSL,
		"vsm_down_blur":           VSMDownBlurWGSL,
		"vsm_up_blur":             VSMUpBlurWGSL,
	}
}

func (l Library) Source(name string) (string, error) {
	src, ok := l[name]
	if !ok {
		return "", fmt.Errorf("shader %q not found", name)
	}
	return src, nil
}

// Names returns the shader names in sorted order.
func (l Library) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileSPIRV compiles a shader to SPIR-V words.
func (l Library) CompileSPIRV(name string) ([]uint32, error) {
	src, err := l.Source(name)
	if err != nil {
		return nil, err
	}
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
