//go:build !nogpu

package native

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/aerogpu/backend"
)

// pipelineCache holds the built-in render pipeline, one per target format.
//
// Thread Safety: safe for concurrent use. Lookups take a read lock; creation
// double-checks under the write lock.
type pipelineCache struct {
	device *wgpu.Device

	mu         sync.RWMutex
	module     *wgpu.ShaderModule
	bindLayout *wgpu.BindGroupLayout
	layout     *wgpu.PipelineLayout
	pipelines  map[gputypes.TextureFormat]*wgpu.RenderPipeline

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newPipelineCache(device *wgpu.Device) *pipelineCache {
	return &pipelineCache{device: device, pipelines: make(map[gputypes.TextureFormat]*wgpu.RenderPipeline)}
}

// init creates the shader module and layouts shared by every pipeline.
func (c *pipelineCache) init() error {
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "aerogpu-blit",
		WGSL:  blitShaderWGSL,
	})
	if err != nil {
		return fmt.Errorf("native: shader module: %w", err)
	}
	bgl, err := c.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "aerogpu-blit",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		}},
	})
	if err != nil {
		module.Release()
		return fmt.Errorf("native: bind group layout: %w", err)
	}
	layout, err := c.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "aerogpu-blit",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		module.Release()
		return fmt.Errorf("native: pipeline layout: %w", err)
	}
	c.module, c.bindLayout, c.layout = module, bgl, layout
	return nil
}

// get returns the pipeline rendering into format, creating it on first use.
func (c *pipelineCache) get(format gputypes.TextureFormat) (*wgpu.RenderPipeline, error) {
	c.mu.RLock()
	p, ok := c.pipelines[format]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[format]; ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)
	p, err := c.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "aerogpu-blit",
		Layout: c.layout,
		Vertex: wgpu.VertexState{
			Module:     c.module,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: backend.VertexStride,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes: []gputypes.VertexAttribute{{
					Format:         gputypes.VertexFormatFloat32x2,
					ShaderLocation: 0,
				}},
			}},
		},
		Primitive:   gputypes.PrimitiveState{},
		Multisample: gputypes.DefaultMultisampleState(),
		Fragment: &wgpu.FragmentState{
			Module:     c.module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("native: render pipeline for %v: %w", format, err)
	}
	c.pipelines[format] = p
	return p, nil
}

// stats returns cache hits and misses.
func (c *pipelineCache) stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *pipelineCache) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for f, p := range c.pipelines {
		p.Release()
		delete(c.pipelines, f)
	}
	if c.layout != nil {
		c.layout.Release()
		c.layout = nil
	}
	if c.bindLayout != nil {
		c.bindLayout.Release()
		c.bindLayout = nil
	}
	if c.module != nil {
		c.module.Release()
		c.module = nil
	}
}
