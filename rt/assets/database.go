// Package assets is the on-disk asset database: sprites, sprite sheets,
// fonts and the particle configuration, indexed by a root config file and
// loaded lazily on first fetch.
package assets

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gekko3d/shoyu/rt/core"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFontSize = 32
	// MaxParticleTypes bounds the particle type ids accepted from config.
	MaxParticleTypes = 128
	// MaxAnimationFrames bounds the regions kept per particle animation.
	MaxAnimationFrames = 128
)

// Meta identifies a loaded asset.
type Meta struct {
	ID   uuid.UUID
	Name string
}

type Sprite struct {
	Meta
	Image ImageData
}

// SheetSprite is a named sub-rectangle of a sprite sheet.
type SheetSprite struct {
	Name   string
	ID     uint32
	Bounds Rect
}

type SpriteSheet struct {
	Meta
	Image   ImageData
	Sprites []SheetSprite
}

// ParticleConfig is the parsed particle configuration. Every type draws
// from the same atlas image.
type ParticleConfig struct {
	Types     []ParticleType
	ImagePath string
	Image     ImageData
}

type entry[C, V any] struct {
	mu     sync.Mutex
	cfg    C
	loaded *V
}

func (e *entry[C, V]) get(load func(C) (*V, error)) (*V, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded != nil {
		return e.loaded, nil
	}
	v, err := load(e.cfg)
	if err != nil {
		return nil, err
	}
	e.loaded = v
	return v, nil
}

func (e *entry[C, V]) unload() {
	e.mu.Lock()
	e.loaded = nil
	e.mu.Unlock()
}

type Options struct {
	Logger core.Logger
	// AtlasSize is the font atlas edge in pixels. Defaults to 512.
	AtlasSize int
}

// Database indexes assets under a base path. Entry tables are fixed after
// Open; each entry loads at most once until unloaded, so fetches are safe
// from multiple goroutines.
type Database struct {
	log       core.Logger
	basePath  string
	atlasSize int

	sprites map[string]*entry[spriteEntryConfig, Sprite]
	sheets  map[string]*entry[sheetEntryConfig, SpriteSheet]
	fonts   map[string]*entry[fontEntryConfig, Font]

	particlePath string
	particles    *entry[string, ParticleConfig]
}

// Open reads the root config and every config file it names. Asset files
// themselves are not touched until fetched.
func Open(basePath string, opts Options) (*Database, error) {
	db := &Database{
		log:       core.OrNop(opts.Logger),
		basePath:  basePath,
		atlasSize: opts.AtlasSize,
		sprites:   make(map[string]*entry[spriteEntryConfig, Sprite]),
		sheets:    make(map[string]*entry[sheetEntryConfig, SpriteSheet]),
		fonts:     make(map[string]*entry[fontEntryConfig, Font]),
	}
	if db.atlasSize <= 0 {
		db.atlasSize = DefaultAtlasSize
	}

	var root rootConfig
	if err := readConfig(db.path(RootFile), &root); err != nil {
		return nil, &core.LoadingError{Key: RootFile, Path: db.path(RootFile), Err: err}
	}

	if root.SpriteCfg != "" {
		var cfg spriteConfig
		if err := readConfig(db.path(root.SpriteCfg), &cfg); err != nil {
			return nil, &core.LoadingError{Key: "sprite_cfg", Path: db.path(root.SpriteCfg), Err: err}
		}
		for _, s := range cfg.Sprites {
			db.sprites[s.Name] = &entry[spriteEntryConfig, Sprite]{cfg: s}
		}
	}
	if root.SpriteSheetCfg != "" {
		var cfg sheetConfig
		if err := readConfig(db.path(root.SpriteSheetCfg), &cfg); err != nil {
			return nil, &core.LoadingError{Key: "sprite_sheet_cfg", Path: db.path(root.SpriteSheetCfg), Err: err}
		}
		for _, s := range cfg.SpriteSheets {
			db.sheets[s.Name] = &entry[sheetEntryConfig, SpriteSheet]{cfg: s}
		}
	}
	if root.TTFCfg != "" {
		var cfg fontConfig
		if err := readConfig(db.path(root.TTFCfg), &cfg); err != nil {
			return nil, &core.LoadingError{Key: "ttf_cfg", Path: db.path(root.TTFCfg), Err: err}
		}
		for _, f := range cfg.Fonts {
			db.fonts[f.Name] = &entry[fontEntryConfig, Font]{cfg: f}
		}
	}
	if root.ParticleCfg != "" {
		db.particlePath = root.ParticleCfg
		db.particles = &entry[string, ParticleConfig]{cfg: root.ParticleCfg}
	}

	db.log.Debugf("asset database %s: %d sprites, %d sheets, %d fonts", basePath, len(db.sprites), len(db.sheets), len(db.fonts))
	return db, nil
}

func (db *Database) BasePath() string { return db.basePath }

func (db *Database) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(db.basePath, rel)
}

func (db *Database) FetchSprite(key string) (*Sprite, error) {
	e, ok := db.sprites[key]
	if !ok {
		return nil, &core.LookupError{Key: key}
	}
	return e.get(func(cfg spriteEntryConfig) (*Sprite, error) {
		img, err := LoadImageRGBA8(db.path(cfg.ImagePath))
		if err != nil {
			return nil, &core.LoadingError{Key: key, Path: cfg.ImagePath, Err: err}
		}
		return &Sprite{Meta: Meta{ID: uuid.New(), Name: key}, Image: img}, nil
	})
}

func (db *Database) FetchSpriteSheet(key string) (*SpriteSheet, error) {
	e, ok := db.sheets[key]
	if !ok {
		return nil, &core.LookupError{Key: key}
	}
	return e.get(func(cfg sheetEntryConfig) (*SpriteSheet, error) {
		img, err := LoadImageRGBA8(db.path(cfg.ImagePath))
		if err != nil {
			return nil, &core.LoadingError{Key: key, Path: cfg.ImagePath, Err: err}
		}

		sprites := make([]SheetSprite, 0, len(cfg.Sprites))
		seen := make(map[uint32]string, len(cfg.Sprites))
		var nextID uint32
		for _, s := range cfg.Sprites {
			if prev, dup := seen[s.ID]; dup {
				return nil, &core.LoadingError{Key: key, Path: cfg.ImagePath,
					Err: fmt.Errorf("sprites %q and %q share id %d", prev, s.Name, s.ID)}
			}
			seen[s.ID] = s.Name
			nextID = max(nextID, s.ID+1)
			sprites = append(sprites, SheetSprite{Name: s.Name, ID: s.ID, Bounds: s.Bounds})
		}
		if cfg.AutoGen != nil {
			gen, err := autoGenerate(*cfg.AutoGen, img.Width, nextID)
			if err != nil {
				return nil, &core.LoadingError{Key: key, Path: cfg.ImagePath, Err: err}
			}
			sprites = append(sprites, gen...)
		}
		if len(sprites) == 0 {
			return nil, &core.LoadingError{Key: key, Path: cfg.ImagePath, Err: fmt.Errorf("sprite sheet has no sprites")}
		}

		return &SpriteSheet{Meta: Meta{ID: uuid.New(), Name: key}, Image: img, Sprites: sprites}, nil
	})
}

// autoGenerate lays out stride cells the size of the bounds cell, left to
// right from the bounds origin and wrapping to the next row at the image
// edge. Ids continue from firstID, one past the highest explicit id.
func autoGenerate(cfg autoGenConfig, imageWidth, firstID uint32) ([]SheetSprite, error) {
	b := cfg.Bounds
	if b.W == 0 || b.H == 0 {
		return nil, fmt.Errorf("auto_gen %q: empty bounds", cfg.Name)
	}
	if b.X+b.W > imageWidth {
		return nil, fmt.Errorf("auto_gen %q: bounds exceed image width %d", cfg.Name, imageWidth)
	}
	cols := (imageWidth - b.X) / b.W

	out := make([]SheetSprite, 0, cfg.Stride)
	for i := uint32(0); i < cfg.Stride; i++ {
		out = append(out, SheetSprite{
			Name: fmt.Sprintf("%s_%d", cfg.Name, i),
			ID:   firstID + i,
			Bounds: Rect{
				X: b.X + (i%cols)*b.W,
				Y: b.Y + (i/cols)*b.H,
				W: b.W,
				H: b.H,
			},
		})
	}
	return out, nil
}

func (db *Database) FetchFont(key string) (*Font, error) {
	e, ok := db.fonts[key]
	if !ok {
		return nil, &core.LookupError{Key: key}
	}
	return e.get(func(cfg fontEntryConfig) (*Font, error) {
		size := cfg.Size
		if size <= 0 {
			size = defaultFontSize
		}
		var glyphs []rune
		if cfg.Glyphs != "" {
			glyphs = []rune(cfg.Glyphs)
		}
		f, err := LoadFont(db.path(cfg.Path), size, glyphs, db.atlasSize)
		if err != nil {
			return nil, &core.LoadingError{Key: key, Path: cfg.Path, Err: err}
		}
		if want := len(glyphs); want > 0 && len(f.Glyphs) < want {
			db.log.Warnf("font %s: %d of %d glyphs fit the %dpx atlas", key, len(f.Glyphs), want, db.atlasSize)
		}
		f.Meta = Meta{ID: uuid.New(), Name: key}
		return f, nil
	})
}

// FetchParticleConfig loads the particle configuration and its atlas image.
func (db *Database) FetchParticleConfig() (*ParticleConfig, error) {
	if db.particles == nil {
		return nil, &core.LookupError{Key: "particle_cfg"}
	}
	return db.particles.get(func(rel string) (*ParticleConfig, error) {
		var cfg particleConfig
		if err := readConfig(db.path(rel), &cfg); err != nil {
			return nil, &core.LoadingError{Key: "particle_cfg", Path: rel, Err: err}
		}
		if len(cfg.Particles) == 0 {
			return nil, &core.LoadingError{Key: "particle_cfg", Path: rel, Err: fmt.Errorf("no particle types")}
		}

		imagePath := cfg.Particles[0].ImagePath
		for _, t := range cfg.Particles {
			if t.ID >= MaxParticleTypes {
				return nil, &core.LoadingError{Key: t.Name, Path: rel, Err: fmt.Errorf("particle id %d exceeds %d", t.ID, MaxParticleTypes-1)}
			}
			if t.ImagePath != imagePath {
				db.log.Warnf("particle %s: image %s ignored, all types share %s", t.Name, t.ImagePath, imagePath)
			}
			if len(t.Animations) > 1 {
				db.log.Warnf("particle %s: only the first of %d animations is used", t.Name, len(t.Animations))
			}
		}

		img, err := LoadImageRGBA8(db.path(imagePath))
		if err != nil {
			return nil, &core.LoadingError{Key: "particle_cfg", Path: imagePath, Err: err}
		}
		return &ParticleConfig{Types: cfg.Particles, ImagePath: imagePath, Image: img}, nil
	})
}

// Keys returns the sorted entry names of each kind.
func (db *Database) Keys() (sprites, sheets, fonts []string) {
	return sortedKeys(db.sprites), sortedKeys(db.sheets), sortedKeys(db.fonts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unload drops the cached data of every entry named key. The next fetch
// reads from disk again.
func (db *Database) Unload(key string) {
	if e, ok := db.sprites[key]; ok {
		e.unload()
	}
	if e, ok := db.sheets[key]; ok {
		e.unload()
	}
	if e, ok := db.fonts[key]; ok {
		e.unload()
	}
}

// Preload loads every entry using up to workers goroutines and reports
// progress after each one. The first error cancels the remaining loads.
func (db *Database) Preload(ctx context.Context, workers int, progress func(done, total int)) error {
	sprites, sheets, fonts := db.Keys()

	var jobs []func() error
	for _, k := range sprites {
		jobs = append(jobs, func() error { _, err := db.FetchSprite(k); return err })
	}
	for _, k := range sheets {
		jobs = append(jobs, func() error { _, err := db.FetchSpriteSheet(k); return err })
	}
	for _, k := range fonts {
		jobs = append(jobs, func() error { _, err := db.FetchFont(k); return err })
	}
	if db.particles != nil {
		jobs = append(jobs, func() error { _, err := db.FetchParticleConfig(); return err })
	}

	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu   sync.Mutex
		done int
	)
	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := job(); err != nil {
				return err
			}
			if progress != nil {
				mu.Lock()
				done++
				progress(done, len(jobs))
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}
