// Package docstore defines the remote document store the sync services write to
// and listen on.
//
// Documents live at savedData/{installationId}/{collection}/{docId}. Writes are
// field-level merges stamped with a store-assigned UpdatedAt; a batch commits
// atomically. Listeners receive full collection snapshots, newest first wins.
package docstore

import (
	"context"
	"sort"
	"time"
)

//go:generate mockgen -source=docstore.go -destination=mocks/mocks.go -package=mocks

// RootCollection is the top level collection every installation lives under.
const RootCollection = "savedData"

// UpdatedAtField is the reserved field carrying the store-assigned timestamp.
const UpdatedAtField = "updatedAt"

// CollectionRef addresses one collection of one installation.
type CollectionRef struct {
	InstallationID string
	Name           string
}

// Collection builds a reference to savedData/{installationID}/{name}.
func Collection(installationID, name string) CollectionRef {
	return CollectionRef{InstallationID: installationID, Name: name}
}

// Path returns the slash separated path of the collection.
func (c CollectionRef) Path() string {
	return RootCollection + "/" + c.InstallationID + "/" + c.Name
}

// Doc references a document inside the collection.
func (c CollectionRef) Doc(id string) DocumentRef {
	return DocumentRef{Collection: c, ID: id}
}

// DocumentRef addresses one document.
type DocumentRef struct {
	Collection CollectionRef
	ID         string
}

func (d DocumentRef) Path() string {
	return d.Collection.Path() + "/" + d.ID
}

// Fields is the JSON-compatible content of a document.
type Fields map[string]any

// Document is one stored document as read back from the store.
type Document struct {
	ID        string
	Fields    Fields
	UpdatedAt time.Time
}

// Snapshot is the full content of a collection at one point in time.
type Snapshot struct {
	Collection CollectionRef
	Documents  []Document
}

// SortDocuments orders documents by ID so snapshots are deterministic.
func SortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// Event is delivered to listeners: either a snapshot or a terminal error.
// After an error event the subscription delivers nothing more.
type Event struct {
	Snapshot *Snapshot
	Err      error
}

// Subscription is a live listener on one collection.
type Subscription interface {
	// Events yields snapshots until Close is called or an error event is sent.
	Events() <-chan Event
	// Close stops delivery. The Events channel is closed before Close returns.
	Close()
}

// Store is the remote document store.
type Store interface {
	// Listen delivers the current content of the collection, then a new snapshot
	// after every committed change that touches it.
	Listen(ctx context.Context, col CollectionRef) (Subscription, error)
	// Commit applies all operations of the batch atomically.
	Commit(ctx context.Context, batch *Batch) error
	// List reads the current content of the collection.
	List(ctx context.Context, col CollectionRef) ([]Document, error)
	Close() error
}
