package pointgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/pointgo/blobstore"
	"github.com/hupe1980/pointgo/format"
	"github.com/hupe1980/pointgo/internal/pool"
	"github.com/hupe1980/pointgo/metadata"
	"github.com/hupe1980/pointgo/tree"
)

// Merge combines the completed subset builds at a store into one whole
// index. All subsets must exist, be pairwise disjoint, and merge in id
// order; cold chunks are already un-postfixed and shared, so only the
// base chunk, hierarchy, manifest and metadata are combined.
func Merge(ctx context.Context, store blobstore.Store, logger *Logger) error {
	if logger == nil {
		logger = NoopLogger()
	}

	first, err := loadSubsetMeta(ctx, store, 1)
	if err != nil {
		return err
	}
	if first.Subset == nil {
		return fmt.Errorf("%w: build at endpoint is not a subset", ErrMergeContiguity)
	}
	of := first.Subset.Of

	fm, err := first.NewFormat()
	if err != nil {
		return err
	}
	pp := pool.NewPointPool(first.SchemaStorage.PointSize())
	env := tree.Env{
		Structure: first.Structure,
		Cube:      first.Cube,
		Format:    fm,
		Pool:      pp,
	}

	base, err := loadSubsetBase(ctx, store, env, first)
	if err != nil {
		return err
	}
	hierarchy, err := loadSubsetHierarchy(ctx, store, first, fm.HierarchyCompression())
	if err != nil {
		return err
	}
	manifest, err := LoadManifest(ctx, store, first.Postfix())
	if err != nil {
		return fmt.Errorf("merge: subset 1 manifest: %w", err)
	}

	for id := uint64(2); id <= of; id++ {
		logger.Info("merging subset", "id", id, "of", of)

		meta, err := loadSubsetMeta(ctx, store, id)
		if err != nil {
			return err
		}
		if meta.Subset == nil || meta.Subset.ID != id || meta.Subset.Of != of {
			return fmt.Errorf("%w: subset %d metadata mismatch", ErrMergeContiguity, id)
		}
		if !meta.Structure.Equal(first.Structure) {
			return fmt.Errorf("%w: subset %d structure differs", ErrMergeContiguity, id)
		}

		otherBase, err := loadSubsetBase(ctx, store, env, meta)
		if err != nil {
			return err
		}
		if err := base.Merge(otherBase); err != nil {
			if errors.Is(err, tree.ErrBumpDepthMerge) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrMergeContiguity, err)
		}

		otherHierarchy, err := loadSubsetHierarchy(ctx, store, meta, fm.HierarchyCompression())
		if err != nil {
			return err
		}
		if hierarchy.Overlaps(otherHierarchy) {
			return fmt.Errorf("%w: subset %d produced overlapping chunks", ErrMergeContiguity, id)
		}
		hierarchy.Merge(otherHierarchy)

		otherManifest, err := LoadManifest(ctx, store, meta.Postfix())
		if err != nil {
			return fmt.Errorf("merge: subset %d manifest: %w", id, err)
		}
		if err := manifest.Merge(otherManifest); err != nil {
			return fmt.Errorf("%w: %w", ErrMergeContiguity, err)
		}
	}

	// Persist the merged artifacts un-postfixed, as a whole build.
	first.MakeWhole()

	if err := base.Save(ctx, store, ""); err != nil {
		return err
	}
	hierarchy.Set(base.ID(), base.NumPoints())
	if err := hierarchy.Save(ctx, store, hierarchyName, fm.HierarchyCompression()); err != nil {
		return err
	}
	if err := SaveManifest(ctx, store, manifest, ""); err != nil {
		return err
	}
	return first.Save(ctx, store)
}

func loadSubsetMeta(ctx context.Context, store blobstore.Store, id uint64) (*Metadata, error) {
	sub := &metadata.Subset{ID: id}
	meta, err := LoadMetadata(ctx, store, sub)
	if errors.Is(err, ErrNoMetadata) {
		return nil, fmt.Errorf("%w: subset %d missing", ErrMergeContiguity, id)
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func loadSubsetBase(ctx context.Context, store blobstore.Store, env tree.Env, meta *Metadata) (*tree.BaseChunk, error) {
	name := meta.Structure.BaseIndexBegin().String() + meta.Postfix()
	data, err := store.Get(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		// A subset over empty space has no base object.
		return tree.NewBaseChunk(env, meta.Subset), nil
	}
	if err != nil {
		return nil, err
	}
	return tree.LoadBaseChunk(env, meta.Subset, data)
}

func loadSubsetHierarchy(ctx context.Context, store blobstore.Store, meta *Metadata, c format.Compression) (*tree.Hierarchy, error) {
	h, err := tree.LoadHierarchy(ctx, store, hierarchyName+meta.Postfix(), c)
	if errors.Is(err, blobstore.ErrNotFound) {
		return tree.NewHierarchy(), nil
	}
	return h, err
}
