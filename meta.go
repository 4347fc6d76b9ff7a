package pointgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/codec"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/metadata"
)

// Epsilon is the ratio by which the cube bounds grow to admit boundary
// points.
const Epsilon = 0.005

// Object names at the output endpoint root. Subset builds append
// "-<id>" to each; cold chunks are never postfixed so merge can find
// them by raw id.
const (
	metaName      = "pointgo"
	manifestName  = "pointgo-manifest"
	hierarchyName = "pointgo-hierarchy"
)

// Metadata aggregates everything a build needs to interpret its bytes:
// bounds in their derived forms, the storage schema, the tree shape,
// the serialization format, and any delta quantization.
type Metadata struct {
	// BoundsNative are the input bounds as configured or inferred.
	BoundsNative metadata.Bounds `json:"bounds"`
	// BoundsConforming are the native bounds rescaled by delta.
	BoundsConforming metadata.Bounds `json:"boundsConforming"`
	// Cube is the conforming bounds expanded to a cube; the tree
	// subdivides it.
	Cube metadata.Bounds `json:"boundsCube"`
	// BoundsEpsilon is the cube grown by Epsilon; points outside it
	// are rejected before climbing.
	BoundsEpsilon metadata.Bounds `json:"boundsEpsilon"`

	// SchemaNative is the reader-facing schema: XYZ as doubles.
	SchemaNative metadata.Schema `json:"schema"`
	// SchemaStorage is the on-disk schema: XYZ deltified when a delta
	// is set, identical to SchemaNative otherwise.
	SchemaStorage metadata.Schema `json:"schemaStorage"`

	Structure metadata.Structure `json:"structure"`
	Format    format.Config      `json:"format"`
	Delta     *metadata.Delta    `json:"delta,omitempty"`
	Subset    *metadata.Subset   `json:"subset,omitempty"`
	SRS       string             `json:"srs,omitempty"`
	Errors    []string           `json:"errors,omitempty"`
}

// NewMetadata derives the full bounds chain and storage schema.
func NewMetadata(native metadata.Bounds, schema metadata.Schema, structure metadata.Structure,
	fcfg format.Config, delta *metadata.Delta, subset *metadata.Subset) (*Metadata, error) {

	if err := structure.Validate(); err != nil {
		return nil, &ConfigError{Field: "structure", Reason: err.Error(), cause: err}
	}
	if native.Empty() {
		return nil, &ConfigError{Field: "bounds", Reason: "empty or inverted"}
	}
	if !schema.Normal() {
		return nil, &ConfigError{Field: "schema", Reason: "XYZ must be native doubles"}
	}
	if subset != nil {
		if min := subset.MinimumNullDepth(structure); structure.NullDepth < min {
			return nil, &ConfigError{
				Field:  "subset",
				Reason: fmt.Sprintf("nullDepth %d below subset minimum %d", structure.NullDepth, min),
			}
		}
	}

	conforming := native.Deltify(delta)
	cube := conforming.Cubeify()

	m := &Metadata{
		BoundsNative:     native,
		BoundsConforming: conforming,
		Cube:             cube,
		BoundsEpsilon:    cube.Grow(Epsilon),
		SchemaNative:     schema,
		SchemaStorage:    schema.Deltify(delta, conforming),
		Structure:        structure,
		Format:           fcfg,
		Delta:            delta,
		Subset:           subset,
	}

	// Validate the format configuration eagerly; a bad tail layout is
	// a startup error, not a write-time one.
	if _, err := format.New(m.SchemaStorage, fcfg); err != nil {
		return nil, &ConfigError{Field: "format", Reason: err.Error(), cause: err}
	}
	return m, nil
}

// NewFormat constructs the runtime Format for the storage schema.
func (m *Metadata) NewFormat() (*format.Format, error) {
	return format.New(m.SchemaStorage, m.Format)
}

// Postfix returns the subset suffix for metadata artifacts: "-<id>"
// for subset builds, empty otherwise.
func (m *Metadata) Postfix() string {
	if m.Subset == nil {
		return ""
	}
	return fmt.Sprintf("-%d", m.Subset.ID)
}

// MakeWhole strips the subset, turning merged metadata into that of a
// complete build.
func (m *Metadata) MakeWhole() { m.Subset = nil }

// Save persists the metadata document at the endpoint root.
func (m *Metadata) Save(ctx context.Context, store blobstore.Store) error {
	data, err := codec.Default.Marshal(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, metaName+m.Postfix(), data)
}

// LoadMetadata reads build metadata, trying the given subset postfix.
func LoadMetadata(ctx context.Context, store blobstore.Store, subset *metadata.Subset) (*Metadata, error) {
	postfix := ""
	if subset != nil {
		postfix = fmt.Sprintf("-%d", subset.ID)
	}
	data, err := store.Get(ctx, metaName+postfix)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoMetadata
	}
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveManifest persists the manifest document.
func SaveManifest(ctx context.Context, store blobstore.Store, m *metadata.Manifest, postfix string) error {
	snap := m.Snapshot()
	data, err := codec.Default.Marshal(snap)
	if err != nil {
		return err
	}
	return store.Put(ctx, manifestName+postfix, data)
}

// LoadManifest reads the manifest document.
func LoadManifest(ctx context.Context, store blobstore.Store, postfix string) (*metadata.Manifest, error) {
	data, err := store.Get(ctx, manifestName+postfix)
	if err != nil {
		return nil, err
	}
	var m metadata.Manifest
	if err := codec.Default.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
