// Package entity maps volatile journal file references to stable entity
// identities and keeps each entity's name and path current.
package entity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"jt-go/internal/jt"
)

// ntfsRootRecord is the MFT record number of every NTFS volume root.
const ntfsRootRecord = 5

const refRecordMask = 1<<48 - 1

type entityDoc struct {
	EntityID         string `json:"entity_id"`
	VolumeID         string `json:"volume_id"`
	VolatileID       string `json:"volatile_id"` // decimal; uint64 does not fit a JSON number
	ParentVolatileID string `json:"parent_volatile_id"`
	Path             string `json:"path"`
	Name             string `json:"name"`
	IsDirectory      bool   `json:"is_directory"`
	Deleted          bool   `json:"deleted"`
	DeletedSequence  int64  `json:"deleted_sequence"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

func formatRef(ref uint64) string { return strconv.FormatUint(ref, 10) }

func (d *entityDoc) entity() jt.Entity {
	ref, _ := strconv.ParseUint(d.VolatileID, 10, 64)
	parent, _ := strconv.ParseUint(d.ParentVolatileID, 10, 64)
	return jt.Entity{
		EntityID:                  d.EntityID,
		VolumeID:                  d.VolumeID,
		LastKnownVolatileID:       ref,
		LastKnownParentVolatileID: parent,
		Path:                      d.Path,
		Name:                      d.Name,
		IsDirectory:               d.IsDirectory,
		Deleted:                   d.Deleted,
		DeletedSequence:           d.DeletedSequence,
		CreatedAt:                 time.Unix(0, d.CreatedAt).UTC(),
		UpdatedAt:                 time.Unix(0, d.UpdatedAt).UTC(),
	}
}

type cacheKey struct {
	volume string
	ref    uint64
}

// Options configures a Resolver.
type Options struct {
	// RootRefs overrides the root directory reference per volume. Volumes
	// not listed treat any reference to MFT record 5 as the root.
	RootRefs  map[string]uint64
	CacheSize int
}

// Resolver resolves (volatile id, volume) pairs to entities. It is a
// write-through cache over the entities collection. Work on one pair is
// serialized; different pairs proceed in parallel.
type Resolver struct {
	store  jt.DocumentStore
	clock  jt.Clock
	ids    jt.IDGenerator
	logger jt.Logger
	opts   Options

	locks jt.KeyedMutex

	mu    sync.Mutex
	cache map[cacheKey]jt.Entity // live entities only
}

func NewResolver(store jt.DocumentStore, clock jt.Clock, ids jt.IDGenerator, logger jt.Logger, opts Options) *Resolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 65536
	}
	return &Resolver{
		store:  store,
		clock:  clock,
		ids:    ids,
		logger: logger,
		opts:   opts,
		cache:  make(map[cacheKey]jt.Entity),
	}
}

func lockKey(volume string, ref uint64) string {
	return volume + "\x00" + formatRef(ref)
}

// Resolve returns the live entity for the pair, creating one when none
// exists. A deleted entity is never returned.
func (r *Resolver) Resolve(ctx context.Context, volatileID uint64, volume, name string, isDir bool) (string, error) {
	unlock := r.locks.Lock(lockKey(volume, volatileID))
	defer unlock()

	e, err := r.resolve(ctx, volume, volatileID, 0, name, isDir)
	if err != nil {
		return "", err
	}
	return e.EntityID, nil
}

// Observe resolves rec's entity and applies the record's effect to it in one
// step, returning the entity as it stands afterwards.
//
// Replaying a delete that was already applied returns the deleted entity
// instead of creating a new one.
func (r *Resolver) Observe(ctx context.Context, rec jt.ChangeRecord, typ jt.ActivityType, role jt.RenameRole) (jt.Entity, error) {
	unlock := r.locks.Lock(lockKey(rec.VolumeID, rec.VolatileID))
	defer unlock()

	if typ == jt.ActivityDelete {
		if e, ok, err := r.findDeletedAt(ctx, rec.VolumeID, rec.VolatileID, rec.Sequence); err != nil {
			return jt.Entity{}, err
		} else if ok {
			return e, nil
		}
	}

	e, err := r.resolve(ctx, rec.VolumeID, rec.VolatileID, rec.ParentVolatileID, rec.Name, rec.IsDirectory)
	if err != nil {
		return jt.Entity{}, err
	}
	return r.apply(ctx, e, typ, role, rec)
}

// UpdateMetadata applies a record's effect to an existing entity: a delete
// marks it deleted, a rename moves it, anything else touches updated_at.
func (r *Resolver) UpdateMetadata(ctx context.Context, entityID string, typ jt.ActivityType, role jt.RenameRole, rec jt.ChangeRecord) (jt.Entity, error) {
	e, err := r.Get(ctx, entityID)
	if err != nil {
		return jt.Entity{}, err
	}
	if e == nil {
		return jt.Entity{}, fmt.Errorf("entity %s not found", entityID)
	}

	unlock := r.locks.Lock(lockKey(e.VolumeID, e.LastKnownVolatileID))
	defer unlock()
	return r.apply(ctx, *e, typ, role, rec)
}

// Get returns the entity with the given id, or nil if there is none.
func (r *Resolver) Get(ctx context.Context, entityID string) (*jt.Entity, error) {
	var doc entityDoc
	found, err := r.store.Get(ctx, jt.CollectionEntities, entityID, &doc)
	if err != nil {
		return nil, fmt.Errorf("getting entity %s: %w", entityID, err)
	}
	if !found {
		return nil, nil
	}
	e := doc.entity()
	return &e, nil
}

// FindLive returns the live entity owning the pair, or nil.
func (r *Resolver) FindLive(ctx context.Context, volume string, volatileID uint64) (*jt.Entity, error) {
	e, ok, err := r.findLive(ctx, volume, volatileID)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (r *Resolver) resolve(ctx context.Context, volume string, ref, parent uint64, name string, isDir bool) (jt.Entity, error) {
	e, ok, err := r.findLive(ctx, volume, ref)
	if err != nil {
		return jt.Entity{}, err
	}
	if ok {
		return e, nil
	}
	return r.create(ctx, volume, ref, parent, name, isDir)
}

func (r *Resolver) findLive(ctx context.Context, volume string, ref uint64) (jt.Entity, bool, error) {
	key := cacheKey{volume: volume, ref: ref}
	r.mu.Lock()
	e, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return e, true, nil
	}

	docs, err := r.query(ctx, jt.Query{
		Where: []jt.Cond{
			jt.Eq("volume_id", volume),
			jt.Eq("volatile_id", formatRef(ref)),
			jt.Eq("deleted", false),
		},
		OrderBy: "created_at",
	})
	if err != nil {
		return jt.Entity{}, false, err
	}
	if len(docs) == 0 {
		return jt.Entity{}, false, nil
	}
	if len(docs) > 1 {
		r.logger.Error("multiple live entities for one reference", "volume", volume, "volatile_id", ref, "count", len(docs))
	}
	e = docs[0].entity()
	r.remember(e)
	return e, true, nil
}

func (r *Resolver) findDeletedAt(ctx context.Context, volume string, ref uint64, seq int64) (jt.Entity, bool, error) {
	docs, err := r.query(ctx, jt.Query{
		Where: []jt.Cond{
			jt.Eq("volume_id", volume),
			jt.Eq("volatile_id", formatRef(ref)),
			jt.Eq("deleted", true),
			jt.Eq("deleted_sequence", seq),
		},
		Limit: 1,
	})
	if err != nil || len(docs) == 0 {
		return jt.Entity{}, false, err
	}
	return docs[0].entity(), true, nil
}

func (r *Resolver) query(ctx context.Context, q jt.Query) ([]entityDoc, error) {
	it, err := r.store.Query(ctx, jt.CollectionEntities, q)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer it.Close()

	var docs []entityDoc
	for it.Next() {
		var d entityDoc
		if err := it.Decode(&d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, it.Err()
}

func (r *Resolver) create(ctx context.Context, volume string, ref, parent uint64, name string, isDir bool) (jt.Entity, error) {
	path, err := r.derivePath(ctx, volume, parent, name)
	if err != nil {
		return jt.Entity{}, err
	}
	now := r.clock.Now().UnixNano()
	doc := entityDoc{
		EntityID:         r.ids.New(),
		VolumeID:         volume,
		VolatileID:       formatRef(ref),
		ParentVolatileID: formatRef(parent),
		Path:             path,
		Name:             name,
		IsDirectory:      isDir,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	inserted, err := r.store.InsertIfAbsent(ctx, jt.CollectionEntities, doc.EntityID, doc)
	if err != nil {
		return jt.Entity{}, fmt.Errorf("creating entity for %s/%d: %w", volume, ref, err)
	}
	if !inserted {
		return jt.Entity{}, fmt.Errorf("%w: entity id %s already taken", jt.ErrResolutionConflict, doc.EntityID)
	}

	e := doc.entity()
	r.remember(e)
	r.logger.Debug("created entity", "entity_id", e.EntityID, "volume", volume, "volatile_id", ref, "path", path)
	return e, nil
}

func (r *Resolver) apply(ctx context.Context, e jt.Entity, typ jt.ActivityType, role jt.RenameRole, rec jt.ChangeRecord) (jt.Entity, error) {
	now := r.clock.Now()
	patch := jt.Patch{"updated_at": now.UnixNano()}
	e.UpdatedAt = now.UTC()

	switch {
	case typ == jt.ActivityDelete:
		patch["deleted"] = true
		patch["deleted_sequence"] = rec.Sequence
		e.Deleted = true
		e.DeletedSequence = rec.Sequence
	case role != jt.RenameNone:
		path, err := r.derivePath(ctx, e.VolumeID, rec.ParentVolatileID, rec.Name)
		if err != nil {
			return jt.Entity{}, err
		}
		patch["name"] = rec.Name
		patch["path"] = path
		patch["parent_volatile_id"] = formatRef(rec.ParentVolatileID)
		e.Name = rec.Name
		e.Path = path
		e.LastKnownParentVolatileID = rec.ParentVolatileID
	}

	found, err := r.store.Update(ctx, jt.CollectionEntities, e.EntityID, patch)
	if err != nil {
		r.forget(e)
		return jt.Entity{}, fmt.Errorf("updating entity %s: %w", e.EntityID, err)
	}
	if !found {
		r.forget(e)
		return jt.Entity{}, fmt.Errorf("%w: entity %s vanished", jt.ErrResolutionConflict, e.EntityID)
	}

	if e.Deleted {
		r.forget(e)
	} else {
		r.remember(e)
	}
	return e, nil
}

// derivePath anchors name under its parent: the volume root gives "/name",
// a known live parent gives "<parent path>/name", anything else leaves the
// bare name.
func (r *Resolver) derivePath(ctx context.Context, volume string, parent uint64, name string) (string, error) {
	if r.isRoot(volume, parent) {
		return "/" + name, nil
	}
	if parent == 0 {
		return name, nil
	}
	p, ok, err := r.findLive(ctx, volume, parent)
	if err != nil {
		return "", err
	}
	if !ok {
		return name, nil
	}
	return strings.TrimSuffix(p.Path, "/") + "/" + name, nil
}

func (r *Resolver) isRoot(volume string, ref uint64) bool {
	if root, ok := r.opts.RootRefs[volume]; ok {
		return ref == root
	}
	return ref&refRecordMask == ntfsRootRecord
}

func (r *Resolver) remember(e jt.Entity) {
	key := cacheKey{volume: e.VolumeID, ref: e.LastKnownVolatileID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache[key]; !ok && len(r.cache) >= r.opts.CacheSize {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = e
}

func (r *Resolver) forget(e jt.Entity) {
	r.mu.Lock()
	delete(r.cache, cacheKey{volume: e.VolumeID, ref: e.LastKnownVolatileID})
	r.mu.Unlock()
}

// CacheLen reports the number of cached live entities.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
