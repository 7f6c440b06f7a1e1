//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/naga"
)

// blitShaderWGSL is the built-in pipeline: a vec2 position per vertex and
// a fragment stage that fills with the texel at the center of the bound
// texture.
const blitShaderWGSL = `
@group(0) @binding(0) var src: texture_2d<f32>;

@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    let dims = textureDimensions(src, 0);
    return textureLoad(src, vec2<i32>(dims / 2u), 0);
}
`

var (
	shaderOnce sync.Once
	shaderErr  error
)

// validateShader compiles the built-in WGSL once so a broken shader fails
// device creation instead of the first draw.
func validateShader() error {
	shaderOnce.Do(func() {
		spirv, err := naga.Compile(blitShaderWGSL)
		switch {
		case err != nil:
			shaderErr = fmt.Errorf("native: compile built-in shader: %w", err)
		case len(spirv)%4 != 0 || len(spirv) == 0:
			shaderErr = fmt.Errorf("native: built-in shader produced %d bytes of SPIR-V", len(spirv))
		}
	})
	return shaderErr
}
