package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/geoingestflow/internal/jobs"
)

// NewFirestoreClient creates a Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// FirestoreJobStore keeps one document per job, keyed by job ID. Updates run
// in a transaction so concurrent writers of one job never interleave.
type FirestoreJobStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreJobStore returns a jobs.Store over collection.
func NewFirestoreJobStore(client *firestore.Client, collection string) *FirestoreJobStore {
	if collection == "" {
		collection = "jobs"
	}
	return &FirestoreJobStore{client: client, collection: collection}
}

func (s *FirestoreJobStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreJobStore) Create(ctx context.Context, job *jobs.Job) error {
	if _, err := s.doc(job.ID).Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job document %s: %w", job.ID, err)
	}
	return nil
}

func (s *FirestoreJobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		return nil, notFound(id, err)
	}
	return decodeJob(snap)
}

func (s *FirestoreJobStore) Update(ctx context.Context, id string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	ref := s.doc(id)
	var updated *jobs.Job
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFound(id, err)
		}
		job, err := decodeJob(snap)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		updated = job
		return tx.Set(ref, job)
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *FirestoreJobStore) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	iter := s.client.Collection(s.collection).OrderBy("createdAt", firestore.Desc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	var out []*jobs.Job
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		job, err := decodeJob(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func decodeJob(snap *firestore.DocumentSnapshot) (*jobs.Job, error) {
	var job jobs.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job document %s: %w", snap.Ref.ID, err)
	}
	return &job, nil
}

func notFound(id string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return fmt.Errorf("failed to read job document %s: %w", id, err)
}
