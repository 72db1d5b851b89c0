package core

import (
	"sort"
	"strconv"
	"strings"
)

// Block is one block state of one platform and data version.
type Block struct {
	Platform   string
	Version    int64
	Namespace  string
	BaseName   string
	Properties map[string]string
}

func NewBlock(platform string, version int64, namespace, baseName string, props map[string]string) Block {
	return Block{Platform: platform, Version: version, Namespace: namespace, BaseName: baseName, Properties: props}
}

// NamespacedName is "namespace:base_name".
func (b Block) NamespacedName() string { return b.Namespace + ":" + b.BaseName }

// String renders the block in the usual "ns:name[k=v,...]" form.
func (b Block) String() string {
	var sb strings.Builder
	sb.WriteString(b.NamespacedName())
	if len(b.Properties) > 0 {
		keys := b.propertyKeys()
		sb.WriteByte('[')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(b.Properties[k])
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

func (b Block) Equal(o Block) bool {
	if b.Platform != o.Platform || b.Version != o.Version || b.Namespace != o.Namespace || b.BaseName != o.BaseName {
		return false
	}
	if len(b.Properties) != len(o.Properties) {
		return false
	}
	for k, v := range b.Properties {
		if ov, ok := o.Properties[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (b Block) Clone() Block {
	if b.Properties != nil {
		props := make(map[string]string, len(b.Properties))
		for k, v := range b.Properties {
			props[k] = v
		}
		b.Properties = props
	}
	return b
}

func (b Block) propertyKeys() []string {
	keys := make([]string, 0, len(b.Properties))
	for k := range b.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b Block) key() string {
	return b.Platform + "|" + strconv.FormatInt(b.Version, 10) + "|" + b.String()
}

// BlockStack is a base block followed by any blocks layered in the same cell.
type BlockStack []Block

func (s BlockStack) Base() Block {
	if len(s) == 0 {
		return Block{}
	}
	return s[0]
}

func (s BlockStack) Equal(o BlockStack) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (s BlockStack) Clone() BlockStack {
	out := make(BlockStack, len(s))
	for i, b := range s {
		out[i] = b.Clone()
	}
	return out
}

func (s BlockStack) key() string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = b.key()
	}
	return strings.Join(parts, "\x00")
}

type Biome struct {
	Platform  string
	Version   int64
	Namespace string
	BaseName  string
}

func (b Biome) NamespacedName() string { return b.Namespace + ":" + b.BaseName }
