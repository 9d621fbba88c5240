package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is the production RemoteStore, backed by Cloud Firestore
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore connects to the project's default database. An empty
// credentials path falls back to application default credentials.
func NewFirestoreStore(ctx context.Context, projectID, credentialsPath string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close releases the underlying client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (DocumentSnapshot, error) {
	if !validDocumentPath(path) {
		return DocumentSnapshot{}, ErrInvalidPath
	}

	snap, err := s.client.Doc(path).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return DocumentSnapshot{Path: path, ID: documentID(path)}, nil
	}
	if err != nil {
		return DocumentSnapshot{}, err
	}
	return convertSnapshot(path, snap), nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, doc Document, merge bool) error {
	if !validDocumentPath(path) {
		return ErrInvalidPath
	}

	var err error
	if merge {
		_, err = s.client.Doc(path).Set(ctx, doc, firestore.MergeAll)
	} else {
		_, err = s.client.Doc(path).Set(ctx, doc)
	}
	return err
}

func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	if !validDocumentPath(path) {
		return ErrInvalidPath
	}
	_, err := s.client.Doc(path).Delete(ctx)
	return err
}

func (s *FirestoreStore) List(ctx context.Context, collectionPath string) (CollectionSnapshot, error) {
	if !validCollectionPath(collectionPath) {
		return CollectionSnapshot{}, ErrInvalidPath
	}

	docs, err := s.client.Collection(collectionPath).Documents(ctx).GetAll()
	if err != nil {
		return CollectionSnapshot{}, err
	}
	return convertCollection(collectionPath, docs), nil
}

func (s *FirestoreStore) SubscribeDocument(ctx context.Context, path string) (<-chan DocumentEvent, StopFunc, error) {
	if !validDocumentPath(path) {
		return nil, nil, ErrInvalidPath
	}

	subCtx, cancel := context.WithCancel(ctx)
	it := s.client.Doc(path).Snapshots(subCtx)
	out := make(chan DocumentEvent)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if isStreamEnd(subCtx, err) {
					return
				}
				select {
				case out <- DocumentEvent{Err: err}:
				case <-subCtx.Done():
				}
				return
			}

			select {
			case out <- DocumentEvent{Snapshot: convertSnapshot(path, snap)}:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, stopper(cancel, exited), nil
}

func (s *FirestoreStore) SubscribeCollection(ctx context.Context, collectionPath string) (<-chan CollectionEvent, StopFunc, error) {
	if !validCollectionPath(collectionPath) {
		return nil, nil, ErrInvalidPath
	}

	subCtx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collectionPath).Snapshots(subCtx)
	out := make(chan CollectionEvent)
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			var docs []*firestore.DocumentSnapshot
			if err == nil {
				docs, err = qs.Documents.GetAll()
			}
			if err != nil {
				if isStreamEnd(subCtx, err) {
					return
				}
				select {
				case out <- CollectionEvent{Err: err}:
				case <-subCtx.Done():
				}
				return
			}

			select {
			case out <- CollectionEvent{Snapshot: convertCollection(collectionPath, docs)}:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, stopper(cancel, exited), nil
}

// stopper cancels the listen stream and waits for the reader goroutine, which
// owns the iterator, to exit
func stopper(cancel context.CancelFunc, exited <-chan struct{}) StopFunc {
	var once sync.Once
	return func() {
		once.Do(cancel)
		<-exited
	}
}

func isStreamEnd(ctx context.Context, err error) bool {
	if errors.Is(err, iterator.Done) || ctx.Err() != nil {
		return true
	}
	return status.Code(err) == codes.Canceled
}

func convertSnapshot(path string, snap *firestore.DocumentSnapshot) DocumentSnapshot {
	out := DocumentSnapshot{Path: path, ID: documentID(path)}
	if snap == nil || !snap.Exists() {
		return out
	}
	out.Exists = true
	out.Data = snap.Data()
	return out
}

func convertCollection(collectionPath string, docs []*firestore.DocumentSnapshot) CollectionSnapshot {
	snap := CollectionSnapshot{Path: collectionPath}
	for _, d := range docs {
		snap.Documents = append(snap.Documents, convertSnapshot(collectionPath+"/"+d.Ref.ID, d))
	}
	sort.Slice(snap.Documents, func(i, j int) bool {
		return snap.Documents[i].ID < snap.Documents[j].ID
	})
	return snap
}
