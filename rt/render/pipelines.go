package render

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/gekko3d/shoyu/rt/gpu"
	"github.com/gekko3d/shoyu/rt/shaders"
	"go.uber.org/multierr"
)

const (
	// Sprite model block: mat4 transform followed by the uv rect.
	spriteModelSize  = 80
	spriteCameraSize = 16
	textStyleSize    = 16

	// Text vertices: position and uv, two floats each.
	glyphVertexStride = 16
	glyphQuadBytes    = 4 * glyphVertexStride
	maxGlyphQuads     = 65536 / 4
)

// QuadVertexLayout is the unit quad shared by sprites and particles.
var QuadVertexLayout = gpu.VertexLayout{
	Stride: 16,
	Attributes: []gpu.VertexAttribute{
		{Location: 0, Offset: 0, Format: gpu.VertexFloat32x2},
		{Location: 1, Offset: 8, Format: gpu.VertexFloat32x2},
	},
}

// Unit quad corners counter-clockwise from the bottom-left. Image rows are
// stored top first, so v runs opposite to y.
var quadVertices = []float32{
	0, 0, 0, 1,
	1, 0, 1, 1,
	1, 1, 1, 0,
	0, 1, 0, 0,
}

var quadIndices = []uint16{0, 1, 2, 2, 3, 0}

func float32Bytes(fs []float32) []byte {
	out := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func uint16Bytes(vs []uint16) []byte {
	out := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// quadIndexRun returns indices for n quads laid out four vertices apart.
func quadIndexRun(n int) []uint16 {
	out := make([]uint16, 0, 6*n)
	for q := 0; q < n; q++ {
		base := uint16(4 * q)
		for _, i := range quadIndices {
			out = append(out, base+i)
		}
	}
	return out
}

// pipelines holds the shared GPU state for sprite and text drawing.
type pipelines struct {
	sampler core.Handle[gpu.Sampler]

	quadVB core.Handle[gpu.Buffer]
	quadIB core.Handle[gpu.Buffer]
	textIB core.Handle[gpu.Buffer]

	spriteLayout   core.Handle[gpu.BindGroupLayout]
	spritePipeline core.Handle[gpu.GraphicsPipeline]
	textLayout     core.Handle[gpu.BindGroupLayout]
	textPipeline   core.Handle[gpu.GraphicsPipeline]

	maxGlyphs int
}

func newPipelines(dev gpu.Device, format gpu.Format, transientRegion uint64) (*pipelines, error) {
	p := &pipelines{}
	var err error

	fail := func(what string, err error) (*pipelines, error) {
		return nil, multierr.Append(fmt.Errorf("%s: %w", what, err), p.release(dev))
	}

	if p.sampler, err = dev.MakeSampler(gpu.SamplerInfo{Label: "nearest", Filter: gpu.FilterNearest}); err != nil {
		return fail("sampler", err)
	}
	if p.quadVB, err = dev.MakeBuffer(gpu.BufferInfo{
		Label: "quad vertices",
		Usage: gpu.BufferVertex,
		Data:  float32Bytes(quadVertices),
	}); err != nil {
		return fail("quad vertices", err)
	}
	if p.quadIB, err = dev.MakeBuffer(gpu.BufferInfo{
		Label: "quad indices",
		Usage: gpu.BufferIndex,
		Data:  uint16Bytes(quadIndices),
	}); err != nil {
		return fail("quad indices", err)
	}

	p.maxGlyphs = min(int(transientRegion/glyphQuadBytes), maxGlyphQuads)
	if p.maxGlyphs > 0 {
		if p.textIB, err = dev.MakeBuffer(gpu.BufferInfo{
			Label: "glyph indices",
			Usage: gpu.BufferIndex,
			Data:  uint16Bytes(quadIndexRun(p.maxGlyphs)),
		}); err != nil {
			return fail("glyph indices", err)
		}
	}

	if p.spriteLayout, err = dev.MakeBindGroupLayout(gpu.BindGroupLayoutInfo{
		Label: "sprite",
		Entries: []gpu.LayoutEntry{
			{Binding: 0, Kind: gpu.BindingDynamicUniform, Stages: gpu.StageVertex, Size: spriteModelSize},
			{Binding: 1, Kind: gpu.BindingDynamicUniform, Stages: gpu.StageVertex, Size: spriteCameraSize},
			{Binding: 2, Kind: gpu.BindingSampledImage, Stages: gpu.StageFragment},
		},
	}); err != nil {
		return fail("sprite layout", err)
	}
	if p.spritePipeline, err = dev.MakeGraphicsPipeline(gpu.GraphicsPipelineInfo{
		Label:         "sprite",
		Shader:        shaders.SpriteWGSL,
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Vertex:        []gpu.VertexLayout{QuadVertexLayout},
		Layouts:       []core.Handle[gpu.BindGroupLayout]{p.spriteLayout},
		Format:        format,
		AlphaBlend:    true,
	}); err != nil {
		return fail("sprite pipeline", err)
	}

	if p.textLayout, err = dev.MakeBindGroupLayout(gpu.BindGroupLayoutInfo{
		Label: "text",
		Entries: []gpu.LayoutEntry{
			{Binding: 0, Kind: gpu.BindingDynamicUniform, Stages: gpu.StageFragment, Size: textStyleSize},
			{Binding: 1, Kind: gpu.BindingSampledImage, Stages: gpu.StageFragment},
		},
	}); err != nil {
		return fail("text layout", err)
	}
	if p.textPipeline, err = dev.MakeGraphicsPipeline(gpu.GraphicsPipelineInfo{
		Label:         "text",
		Shader:        shaders.TextWGSL,
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Vertex: []gpu.VertexLayout{{
			Stride: glyphVertexStride,
			Attributes: []gpu.VertexAttribute{
				{Location: 0, Offset: 0, Format: gpu.VertexFloat32x2},
				{Location: 1, Offset: 8, Format: gpu.VertexFloat32x2},
			},
		}},
		Layouts:    []core.Handle[gpu.BindGroupLayout]{p.textLayout},
		Format:     format,
		AlphaBlend: true,
	}); err != nil {
		return fail("text pipeline", err)
	}

	return p, nil
}

// release destroys whatever was created; zero handles are skipped.
func (p *pipelines) release(dev gpu.Device) error {
	var errs error
	if p.textPipeline.Valid() {
		errs = multierr.Append(errs, dev.DestroyGraphicsPipeline(p.textPipeline))
	}
	if p.textLayout.Valid() {
		errs = multierr.Append(errs, dev.DestroyBindGroupLayout(p.textLayout))
	}
	if p.spritePipeline.Valid() {
		errs = multierr.Append(errs, dev.DestroyGraphicsPipeline(p.spritePipeline))
	}
	if p.spriteLayout.Valid() {
		errs = multierr.Append(errs, dev.DestroyBindGroupLayout(p.spriteLayout))
	}
	for _, b := range []core.Handle[gpu.Buffer]{p.textIB, p.quadIB, p.quadVB} {
		if b.Valid() {
			errs = multierr.Append(errs, dev.DestroyBuffer(b))
		}
	}
	if p.sampler.Valid() {
		errs = multierr.Append(errs, dev.DestroySampler(p.sampler))
	}
	return errs
}
