package chunk

import "voxelstore.ai/internal/nbtx"

// Layer names of a raw chunk.
const (
	LayerRegion   = "region"
	LayerEntities = "entities"
	LayerPOI      = "poi"
)

// RawChunk is the undecoded data of one chunk, keyed by layer.
type RawChunk map[string]nbtx.NamedTag

func (r RawChunk) Clone() RawChunk {
	out := make(RawChunk, len(r))
	for k, v := range r {
		out[k] = nbtx.NamedTag{Name: v.Name, Tag: nbtx.CloneRaw(v.Tag)}
	}
	return out
}

const (
	// Block states move from Level.Sections to the root sections list.
	dataVersionRootSections = 2844
	// Long arrays stop spanning long boundaries.
	dataVersionNonSpanning = 2529
	// Numeric block arrays are replaced by palettes.
	dataVersionPalette = 1444

	numericalNamespace = "numerical"
	blockDataProperty  = "block_data"
	sectionVolume      = 4096
)
