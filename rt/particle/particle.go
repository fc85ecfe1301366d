// Package particle simulates a fixed-capacity particle array on the GPU.
// The CPU only ever writes freshly emitted particles; a compute dispatch
// advances every slot once per frame and an instanced draw renders all of
// them.
package particle

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultCapacity = 2048
	// WorkgroupSize must match @workgroup_size in the update shader.
	WorkgroupSize = 32
	// RecordSize is the std430 size of one particle.
	RecordSize = 64
)

// Behavior selects how a particle moves.
type Behavior uint32

const (
	// Linear moves at constant velocity.
	Linear Behavior = iota
	// Gravity accelerates downwards before integrating position.
	Gravity
)

func (b Behavior) String() string {
	switch b {
	case Linear:
		return "linear"
	case Gravity:
		return "gravity"
	default:
		return fmt.Sprintf("Behavior(%d)", uint32(b))
	}
}

// Particle mirrors one GPU slot. Times are in milliseconds, velocity in
// pixels per second, rotation in degrees.
type Particle struct {
	Position     mgl32.Vec2
	Size         mgl32.Vec2
	Velocity     mgl32.Vec2
	Rotation     float32
	Type         uint32
	Frame        uint32
	AnimTimer    float32
	MaxLifetime  float32
	CurrLifetime float32
	Behavior     Behavior
	Active       bool
}

// Byte offsets inside a record.
const (
	offPosition     = 0
	offSize         = 8
	offVelocity     = 16
	offRotation     = 24
	offType         = 28
	offFrame        = 32
	offAnimTimer    = 36
	offMaxLifetime  = 40
	offCurrLifetime = 44
	offBehavior     = 48
	offActive       = 52
)

func putF32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func getF32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func putVec2(b []byte, off int, v mgl32.Vec2) {
	putF32(b, off, v[0])
	putF32(b, off+4, v[1])
}

func getVec2(b []byte, off int) mgl32.Vec2 {
	return mgl32.Vec2{getF32(b, off), getF32(b, off+4)}
}

// MarshalRecord writes p into b, which must hold RecordSize bytes.
func (p Particle) MarshalRecord(b []byte) {
	_ = b[RecordSize-1]
	putVec2(b, offPosition, p.Position)
	putVec2(b, offSize, p.Size)
	putVec2(b, offVelocity, p.Velocity)
	putF32(b, offRotation, p.Rotation)
	binary.LittleEndian.PutUint32(b[offType:], p.Type)
	binary.LittleEndian.PutUint32(b[offFrame:], p.Frame)
	putF32(b, offAnimTimer, p.AnimTimer)
	putF32(b, offMaxLifetime, p.MaxLifetime)
	putF32(b, offCurrLifetime, p.CurrLifetime)
	binary.LittleEndian.PutUint32(b[offBehavior:], uint32(p.Behavior))
	var active uint32
	if p.Active {
		active = 1
	}
	binary.LittleEndian.PutUint32(b[offActive:], active)
	clear(b[offActive+4 : RecordSize])
}

// UnmarshalRecord reads a particle from a RecordSize byte record.
func UnmarshalRecord(b []byte) Particle {
	_ = b[RecordSize-1]
	return Particle{
		Position:     getVec2(b, offPosition),
		Size:         getVec2(b, offSize),
		Velocity:     getVec2(b, offVelocity),
		Rotation:     getF32(b, offRotation),
		Type:         binary.LittleEndian.Uint32(b[offType:]),
		Frame:        binary.LittleEndian.Uint32(b[offFrame:]),
		AnimTimer:    getF32(b, offAnimTimer),
		MaxLifetime:  getF32(b, offMaxLifetime),
		CurrLifetime: getF32(b, offCurrLifetime),
		Behavior:     Behavior(binary.LittleEndian.Uint32(b[offBehavior:])),
		Active:       binary.LittleEndian.Uint32(b[offActive:]) != 0,
	}
}

// Step advances one particle by dtMs the way the update shader does. It
// exists for tests and for debugging simulations without a GPU.
func Step(p *Particle, anim *Animation, dtMs, gravity float32) {
	if !p.Active {
		return
	}
	p.CurrLifetime += dtMs
	if p.CurrLifetime >= p.MaxLifetime {
		p.Active = false
		return
	}

	dt := dtMs / 1000
	if p.Behavior == Gravity {
		p.Velocity[1] -= gravity * dt
	}
	p.Position = p.Position.Add(p.Velocity.Mul(dt))

	p.AnimTimer += dtMs
	if anim == nil {
		return
	}
	frames := uint32(len(anim.Regions))
	if frames > 0 && anim.TimePerFrameMs > 0 && p.AnimTimer >= anim.TimePerFrameMs {
		p.AnimTimer -= anim.TimePerFrameMs
		p.Frame = (p.Frame + 1) % frames
	}
}
