package java

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"voxelstore.ai/internal/java/anvil"
	"voxelstore.ai/internal/lock"
	"voxelstore.ai/internal/nbtx"
	"voxelstore.ai/internal/registry"
)

const (
	Platform = "java"

	// MaxSupportedDataVersion is the newest chunk format the codecs know.
	MaxSupportedDataVersion = 4189

	blockIDFile = "block_ids.yaml"
	biomeIDFile = "biome_ids.yaml"
)

type Options struct {
	Region anvil.Options
	Logger *log.Logger
	// CompactWorkers is the number of goroutines compacting one layer.
	CompactWorkers int
}

func (o Options) normalized() Options {
	if o.Region.Locks == nil {
		o.Region.Locks = lock.Shared
	}
	if o.Region.Logger == nil {
		o.Region.Logger = o.Logger
	}
	if o.CompactWorkers <= 0 {
		o.CompactWorkers = 2
	}
	return o
}

// CreateArgs describes a new level for Create.
type CreateArgs struct {
	// Overwrite removes an existing directory at Path first.
	Overwrite   bool
	Path        string
	DataVersion int64
	LevelName   string
}

// RawLevel is a level directory on disk: its level.dat and the region files
// of its dimensions. Chunk access needs the level to be open.
type RawLevel struct {
	path string
	opts Options
	ref  *lock.Ref

	opened   Signal[*RawLevel]
	closed   Signal[*RawLevel]
	reloaded Signal[*RawLevel]

	mu       sync.Mutex
	levelDat nbtx.NamedTag
	meta     Metadata
	open     bool
	dims     map[string]*RawDimension
	blockIDs *registry.IdRegistry
	biomeIDs *registry.IdRegistry
}

// Load reads the metadata of the level at path. The level starts closed.
func Load(path string, opts Options) (*RawLevel, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	tag, err := readLevelDat(abs)
	if err != nil {
		return nil, err
	}
	meta, err := parseMetadata(tag)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	opts = opts.normalized()
	return &RawLevel{
		path:     abs,
		opts:     opts,
		ref:      opts.Region.Locks.Acquire("level:" + abs),
		levelDat: tag,
		meta:     meta,
	}, nil
}

// Create writes a new level.dat at args.Path and loads the result.
func Create(args CreateArgs, opts Options) (*RawLevel, error) {
	if args.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotLevel)
	}
	if entries, err := os.ReadDir(args.Path); err == nil && len(entries) > 0 {
		if !args.Overwrite {
			return nil, fmt.Errorf("%s: %w", args.Path, ErrLevelExists)
		}
		if err := os.RemoveAll(args.Path); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(args.Path, 0o755); err != nil {
		return nil, err
	}
	name := args.LevelName
	if name == "" {
		name = filepath.Base(args.Path)
	}
	if err := writeLevelDat(args.Path, newLevelDat(args.DataVersion, name, time.Now())); err != nil {
		return nil, err
	}
	return Load(args.Path, opts)
}

func (l *RawLevel) Path() string     { return l.path }
func (l *RawLevel) Platform() string { return Platform }

// Lock returns a new reference to the level lock. The caller releases it.
func (l *RawLevel) Lock() *lock.Ref { return l.ref.Retain() }

func (l *RawLevel) Opened() *Signal[*RawLevel]   { return &l.opened }
func (l *RawLevel) Closed() *Signal[*RawLevel]   { return &l.closed }
func (l *RawLevel) Reloaded() *Signal[*RawLevel] { return &l.reloaded }

func (l *RawLevel) Metadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta
}

func (l *RawLevel) DataVersion() int64      { return l.Metadata().DataVersion }
func (l *RawLevel) LevelName() string       { return l.Metadata().LevelName }
func (l *RawLevel) ModifiedTime() time.Time { return l.Metadata().Modified }

func (l *RawLevel) IsSupported() bool {
	return l.DataVersion() <= MaxSupportedDataVersion
}

func (l *RawLevel) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *RawLevel) Open() error {
	l.mu.Lock()
	if l.open {
		l.mu.Unlock()
		return nil
	}
	if err := l.loadIDsLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	l.dims = map[string]*RawDimension{}
	l.open = true
	l.mu.Unlock()

	l.printf("opened %s", l.path)
	l.opened.Emit(l)
	return nil
}

// Close releases every region file. Closing a closed level is a no-op.
func (l *RawLevel) Close() error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return nil
	}
	err := l.destroyDimensionsLocked()
	l.open = false
	l.blockIDs = nil
	l.biomeIDs = nil
	l.mu.Unlock()

	l.printf("closed %s", l.path)
	l.closed.Emit(l)
	return err
}

// Reload drops every cached dimension and re-reads the level from disk.
func (l *RawLevel) Reload() error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrLevelNotOpen
	}
	err := l.destroyDimensionsLocked()
	if err == nil {
		err = l.reloadMetadataLocked()
	}
	if err == nil {
		err = l.loadIDsLocked()
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.reloaded.Emit(l)
	return nil
}

// ReloadMetadata re-reads level.dat. It is only allowed while closed.
func (l *RawLevel) ReloadMetadata() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		return ErrLevelOpen
	}
	return l.reloadMetadataLocked()
}

func (l *RawLevel) reloadMetadataLocked() error {
	tag, err := readLevelDat(l.path)
	if err != nil {
		return err
	}
	meta, err := parseMetadata(tag)
	if err != nil {
		return fmt.Errorf("%s: %w", l.path, err)
	}
	l.levelDat = tag
	l.meta = meta
	return nil
}

// LevelDat returns a copy of the level.dat tag.
func (l *RawLevel) LevelDat() nbtx.NamedTag {
	l.mu.Lock()
	defer l.mu.Unlock()
	return nbtx.NamedTag{Name: l.levelDat.Name, Tag: nbtx.CloneRaw(l.levelDat.Tag)}
}

// SetLevelDat replaces level.dat on disk.
func (l *RawLevel) SetLevelDat(tag nbtx.NamedTag) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrLevelNotOpen
	}
	return l.setLevelDatLocked(tag)
}

func (l *RawLevel) SetLevelName(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrLevelNotOpen
	}
	tag, err := setDataField(l.levelDat, "LevelName", nbtx.String(name))
	if err != nil {
		return err
	}
	return l.setLevelDatLocked(tag)
}

func (l *RawLevel) setLevelDatLocked(tag nbtx.NamedTag) error {
	meta, err := parseMetadata(tag)
	if err != nil {
		return err
	}
	if err := writeLevelDat(l.path, tag); err != nil {
		return err
	}
	l.levelDat = nbtx.NamedTag{Name: tag.Name, Tag: nbtx.CloneRaw(tag.Tag)}
	l.meta = meta
	return nil
}

// BlockIDOverride holds numeric block ids that take precedence over the
// built in table when decoding numeric chunk formats.
func (l *RawLevel) BlockIDOverride() (*registry.IdRegistry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil, ErrLevelNotOpen
	}
	return l.blockIDs, nil
}

func (l *RawLevel) BiomeIDOverride() (*registry.IdRegistry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil, ErrLevelNotOpen
	}
	return l.biomeIDs, nil
}

// SaveIDOverrides writes the non-empty override registries next to level.dat.
func (l *RawLevel) SaveIDOverrides() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return ErrLevelNotOpen
	}
	for name, ids := range map[string]*registry.IdRegistry{blockIDFile: l.blockIDs, biomeIDFile: l.biomeIDs} {
		if ids.Len() == 0 {
			continue
		}
		if err := ids.WriteYAML(filepath.Join(l.path, name)); err != nil {
			return err
		}
	}
	return nil
}

func (l *RawLevel) loadIDsLocked() error {
	blocks, err := registry.LoadYAML(filepath.Join(l.path, blockIDFile))
	if err != nil {
		return fmt.Errorf("%s: %w", blockIDFile, err)
	}
	biomes, err := registry.LoadYAML(filepath.Join(l.path, biomeIDFile))
	if err != nil {
		return fmt.Errorf("%s: %w", biomeIDFile, err)
	}
	l.blockIDs, l.biomeIDs = blocks, biomes
	return nil
}

// blockRegistry merges the override with the built in numeric ids, the
// override winning on collisions.
func (l *RawLevel) blockRegistry() (*registry.IdRegistry, error) {
	override, err := l.BlockIDOverride()
	if err != nil {
		return nil, err
	}
	ids := registry.New()
	ids.Merge(override)
	ids.Merge(registry.LegacyBlocks())
	return ids, nil
}

// DimensionIDs lists the vanilla dimensions followed by any custom
// dimensions found under dimensions/<namespace>/<name>.
func (l *RawLevel) DimensionIDs() ([]string, error) {
	if !l.IsOpen() {
		return nil, ErrLevelNotOpen
	}
	ids := []string{Overworld, TheNether, TheEnd}
	namespaces, err := os.ReadDir(filepath.Join(l.path, "dimensions"))
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, err
	}
	var custom []string
	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(l.path, "dimensions", ns.Name()))
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !n.IsDir() {
				continue
			}
			id := ns.Name() + ":" + n.Name()
			if id == Overworld || id == TheNether || id == TheEnd {
				continue
			}
			custom = append(custom, id)
		}
	}
	sort.Strings(custom)
	return append(ids, custom...), nil
}

// Dimension returns the cached dimension with the given id. Any namespaced
// id is accepted; unknown custom dimensions start empty.
func (l *RawLevel) Dimension(id string) (*RawDimension, error) {
	rel, err := dimensionPath(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil, ErrLevelNotOpen
	}
	d := l.dims[id]
	if d == nil {
		d = newRawDimension(l, id, rel)
		l.dims[id] = d
	}
	return d, nil
}

// Compact compacts every region file of every dimension.
func (l *RawLevel) Compact() (anvil.CompactStats, error) {
	ids, err := l.DimensionIDs()
	if err != nil {
		return anvil.CompactStats{}, err
	}
	var total anvil.CompactStats
	var errs []error
	for _, id := range ids {
		d, err := l.Dimension(id)
		if err != nil {
			return total, err
		}
		st, err := d.Compact(l.opts.CompactWorkers)
		total = addStats(total, st)
		if err != nil {
			errs = append(errs, err)
		}
	}
	l.printf("compacted %s: %d regions, %d removed, %d bytes reclaimed", l.path, total.Compacted, total.Removed, total.BytesReclaimed)
	return total, errors.Join(errs...)
}

func (l *RawLevel) destroyDimensionsLocked() error {
	var errs []error
	for id, d := range l.dims {
		if err := d.destroy(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	l.dims = map[string]*RawDimension{}
	return errors.Join(errs...)
}

func (l *RawLevel) locks() *lock.Table { return l.opts.Region.Locks }

func (l *RawLevel) printf(format string, args ...any) {
	if l.opts.Logger == nil {
		return
	}
	l.opts.Logger.Printf(format, args...)
}
