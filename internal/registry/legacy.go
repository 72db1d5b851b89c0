package registry

// legacyBlocks holds the pre-flattening numeric block ids that appear in the
// oldest chunk formats. Anything missing decodes into the numerical namespace.
var legacyBlocks = []string{
	"air", "stone", "grass", "dirt", "cobblestone", "planks", "sapling", "bedrock",
	"flowing_water", "water", "flowing_lava", "lava", "sand", "gravel", "gold_ore",
	"iron_ore", "coal_ore", "log", "leaves", "sponge", "glass",
}

// LegacyBlocks returns a fresh registry seeded with the builtin legacy table.
func LegacyBlocks() *IdRegistry {
	r := New()
	for i, name := range legacyBlocks {
		_ = r.Register(uint32(i), NamespacedID{Namespace: "minecraft", Name: name})
	}
	return r
}

// Merge registers every pair of other that doesn't collide with r and
// returns how many were skipped.
func (r *IdRegistry) Merge(other *IdRegistry) int {
	skipped := 0
	for _, it := range other.Items() {
		if err := r.Register(it.Numerical, it.ID); err != nil {
			skipped++
		}
	}
	return skipped
}
