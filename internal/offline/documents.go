package offline

import (
	"context"
	"errors"
	"fmt"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/queue"
	"healthtrack/syncd/internal/remote"
)

// ErrPlaceholderID is returned for an update or delete that targets a record
// created offline and not yet synced. Its placeholder id never reaches the
// remote store, so such a write could never match the record.
var ErrPlaceholderID = errors.New("record has a placeholder id until it is synced")

// Applier writes an intent to the remote store immediately and returns the
// affected record id. The sync engine implements it.
type Applier interface {
	Apply(ctx context.Context, intent queue.Intent) (string, error)
}

// Documents binds the wrapper to a remote store for CRUD on any collection.
type Documents struct {
	wrapper *Wrapper
	applier Applier
	store   remote.Store
}

func NewDocuments(wrapper *Wrapper, applier Applier, store remote.Store) *Documents {
	return &Documents{wrapper: wrapper, applier: applier, store: store}
}

func (d *Documents) Create(ctx context.Context, collection string, payload document.Doc) (document.Doc, error) {
	return d.wrapper.Write(ctx, queue.KindCreate, collection, payload, func(ctx context.Context, payload document.Doc) (document.Doc, error) {
		id, err := d.applier.Apply(ctx, queue.Intent{Kind: queue.KindCreate, Resource: collection, Payload: payload})
		if err != nil {
			return nil, err
		}
		return document.Clean(payload).Merge(document.Doc{document.IDField: id}), nil
	})
}

func (d *Documents) Update(ctx context.Context, collection string, id string, fields document.Doc) (document.Doc, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	payload := fields.Merge(document.Doc{document.IDField: id})
	return d.wrapper.Write(ctx, queue.KindUpdate, collection, payload, func(ctx context.Context, payload document.Doc) (document.Doc, error) {
		if _, err := d.applier.Apply(ctx, queue.Intent{Kind: queue.KindUpdate, Resource: collection, Payload: payload}); err != nil {
			return nil, err
		}
		return payload, nil
	})
}

func (d *Documents) Delete(ctx context.Context, collection string, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	payload := document.Doc{document.IDField: id}
	_, err := d.wrapper.Write(ctx, queue.KindDelete, collection, payload, func(ctx context.Context, payload document.Doc) (document.Doc, error) {
		if _, err := d.applier.Apply(ctx, queue.Intent{Kind: queue.KindDelete, Resource: collection, Payload: payload}); err != nil {
			return nil, err
		}
		return payload, nil
	})
	return err
}

func (d *Documents) List(ctx context.Context, collection string) ([]document.Doc, error) {
	return d.wrapper.Read(ctx, collection, func(ctx context.Context) ([]document.Doc, error) {
		return d.store.List(ctx, collection)
	})
}

func checkID(id string) error {
	if id == "" {
		return errors.New("record id is required")
	}
	if IsPlaceholder(id) {
		return fmt.Errorf("%s: %w", id, ErrPlaceholderID)
	}
	return nil
}
