package particle

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/shoyu/rt/assets"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	MaxTypes  = assets.MaxParticleTypes
	MaxFrames = assets.MaxAnimationFrames

	// Per entry: time per frame, frame count, padding, then the regions.
	animationHeader = 16
	AnimationSize   = animationHeader + MaxFrames*16
	AnimationTable  = MaxTypes * AnimationSize
)

// Animation is the frame list of one particle type. Regions are normalized
// atlas rects {x, y, w, h}.
type Animation struct {
	TimePerFrameMs float32
	Regions        []mgl32.Vec4
}

// animationsFromConfig builds the table indexed by particle type id. Only
// the first animation of a type is used. sizes holds the pixel size of each
// type's first frame, used when an emission leaves Size unset.
func animationsFromConfig(cfg *assets.ParticleConfig) (anims [MaxTypes]Animation, sizes [MaxTypes]mgl32.Vec2) {
	w, h := float32(cfg.Image.Width), float32(cfg.Image.Height)
	if w == 0 || h == 0 {
		return anims, sizes
	}
	for _, t := range cfg.Types {
		if t.ID >= MaxTypes || len(t.Animations) == 0 {
			continue
		}
		src := t.Animations[0]
		sprites := src.Sprites
		if len(sprites) > MaxFrames {
			sprites = sprites[:MaxFrames]
		}
		a := Animation{TimePerFrameMs: src.TimePerFrameMs, Regions: make([]mgl32.Vec4, len(sprites))}
		for i, r := range sprites {
			a.Regions[i] = mgl32.Vec4{float32(r.X) / w, float32(r.Y) / h, float32(r.W) / w, float32(r.H) / h}
		}
		anims[t.ID] = a
		if len(sprites) > 0 {
			sizes[t.ID] = mgl32.Vec2{float32(sprites[0].W), float32(sprites[0].H)}
		}
	}
	return anims, sizes
}

// encodeAnimations lays the table out as the shaders' array<Animation, 128>.
func encodeAnimations(anims *[MaxTypes]Animation) []byte {
	out := make([]byte, AnimationTable)
	for i := range anims {
		b := out[i*AnimationSize:]
		binary.LittleEndian.PutUint32(b[0:], math.Float32bits(anims[i].TimePerFrameMs))
		binary.LittleEndian.PutUint32(b[4:], uint32(len(anims[i].Regions)))
		for j, r := range anims[i].Regions {
			for k := range 4 {
				binary.LittleEndian.PutUint32(b[animationHeader+j*16+k*4:], math.Float32bits(r[k]))
			}
		}
	}
	return out
}
