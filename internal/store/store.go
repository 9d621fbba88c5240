// Package store defines the remote document store the tracking, presence and
// alarm components share, plus the implementations used by the binaries.
package store

import (
	"context"
	"errors"
	"strings"
)

// Document is the field map of a stored document
type Document = map[string]interface{}

// DocumentSnapshot is the state of one document at a point in time
type DocumentSnapshot struct {
	Path   string
	ID     string
	Exists bool
	Data   Document
}

// CollectionSnapshot is the state of every document directly under a collection
type CollectionSnapshot struct {
	Path      string
	Documents []DocumentSnapshot
}

// DocumentEvent is one delivery of a document subscription. A non-nil Err
// ends the stream.
type DocumentEvent struct {
	Snapshot DocumentSnapshot
	Err      error
}

// CollectionEvent is one delivery of a collection subscription. A non-nil Err
// ends the stream.
type CollectionEvent struct {
	Snapshot CollectionSnapshot
	Err      error
}

// StopFunc tears a subscription down. It returns once no further events will
// be delivered and is safe to call more than once.
type StopFunc func()

// RemoteStore is a key-document store with real-time subscriptions.
// Within one subscription, snapshots arrive in store order; intermediate
// states may be coalesced.
type RemoteStore interface {
	Get(ctx context.Context, path string) (DocumentSnapshot, error)
	Set(ctx context.Context, path string, doc Document, merge bool) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collectionPath string) (CollectionSnapshot, error)
	SubscribeDocument(ctx context.Context, path string) (<-chan DocumentEvent, StopFunc, error)
	SubscribeCollection(ctx context.Context, collectionPath string) (<-chan CollectionEvent, StopFunc, error)
}

// Store errors
var (
	ErrInvalidPath = errors.New("invalid store path")
	ErrClosed      = errors.New("store is closed")
)

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// validDocumentPath checks for an even, non-empty number of segments
func validDocumentPath(path string) bool {
	parts := splitPath(path)
	if len(parts) == 0 || len(parts)%2 != 0 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func validCollectionPath(path string) bool {
	parts := splitPath(path)
	if len(parts)%2 != 1 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// parentCollection returns the collection a document lives in
func parentCollection(docPath string) string {
	trimmed := strings.Trim(docPath, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx]
}

func documentID(docPath string) string {
	trimmed := strings.Trim(docPath, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneDocument(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeDocument applies src onto dst field by field, descending into nested
// maps the way a merge write does
func mergeDocument(dst, src Document) Document {
	if dst == nil {
		dst = make(Document, len(src))
	}
	for k, v := range src {
		if nested, ok := v.(map[string]interface{}); ok {
			if existing, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = mergeDocument(existing, nested)
				continue
			}
			dst[k] = cloneDocument(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}
