package shaders

import (
	_ "embed"
)

//go:embed sprite.wgsl
var SpriteWGSL string

//go:embed text.wgsl
var TextWGSL string

//go:embed particle_draw.wgsl
var ParticleDrawWGSL string

//go:embed particle_update.wgsl
var ParticleUpdateWGSL string

//go:embed blit.wgsl
var BlitWGSL string
