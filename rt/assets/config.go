package assets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RootFile is the database index looked up under the base path. Any YAML
// document works as well, JSON being a subset of YAML.
const RootFile = "shoyu.json"

// Rect is a pixel rectangle with the origin at the image's top-left corner.
type Rect struct {
	X uint32 `yaml:"x"`
	Y uint32 `yaml:"y"`
	W uint32 `yaml:"w"`
	H uint32 `yaml:"h"`
}

type rootConfig struct {
	SpriteCfg      string `yaml:"sprite_cfg"`
	SpriteSheetCfg string `yaml:"sprite_sheet_cfg"`
	TTFCfg         string `yaml:"ttf_cfg"`
	ParticleCfg    string `yaml:"particle_cfg"`
}

type spriteEntryConfig struct {
	Name      string `yaml:"name"`
	ImagePath string `yaml:"image_path"`
}

type spriteConfig struct {
	Sprites []spriteEntryConfig `yaml:"sprites"`
}

type sheetSpriteConfig struct {
	Name   string `yaml:"name"`
	ID     uint32 `yaml:"id"`
	Bounds Rect   `yaml:"bounds"`
}

type autoGenConfig struct {
	Name   string `yaml:"name"`
	Bounds Rect   `yaml:"bounds"`
	Stride uint32 `yaml:"stride"`
}

type sheetEntryConfig struct {
	Name      string              `yaml:"name"`
	ImagePath string              `yaml:"image_path"`
	Sprites   []sheetSpriteConfig `yaml:"sprites"`
	AutoGen   *autoGenConfig      `yaml:"auto_gen"`
}

type sheetConfig struct {
	SpriteSheets []sheetEntryConfig `yaml:"sprite_sheets"`
}

type fontEntryConfig struct {
	Name   string  `yaml:"name"`
	Path   string  `yaml:"path"`
	Size   float64 `yaml:"size"`
	Glyphs string  `yaml:"glyphs"`
}

type fontConfig struct {
	Fonts []fontEntryConfig `yaml:"fonts"`
}

// ParticleAnimation lists the atlas regions of one animation.
type ParticleAnimation struct {
	Name           string  `yaml:"name"`
	ID             uint32  `yaml:"id"`
	Sprites        []Rect  `yaml:"sprites"`
	TimePerFrameMs float32 `yaml:"time_per_frame_ms"`
}

// ParticleType is one entry of the particle configuration. Its ID selects
// the slot in the animation table.
type ParticleType struct {
	Name       string              `yaml:"name"`
	ID         uint32              `yaml:"id"`
	ImagePath  string              `yaml:"image_path"`
	Animations []ParticleAnimation `yaml:"animations"`
}

type particleConfig struct {
	Particles []ParticleType `yaml:"particles"`
}

func readConfig(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
