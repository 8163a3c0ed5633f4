package journal

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// FirestoreJournal stores one document per run, keyed by run id.
type FirestoreJournal struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreJournal(client *firestore.Client, collection string) *FirestoreJournal {
	return &FirestoreJournal{client: client, collection: collection}
}

func (j *FirestoreJournal) doc(runID string) *firestore.DocumentRef {
	return j.client.Collection(j.collection).Doc(runID)
}

func (j *FirestoreJournal) Begin(ctx context.Context, rec *models.ProcessingRecord) error {
	if _, err := j.doc(rec.RunID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

func (j *FirestoreJournal) Finish(ctx context.Context, rec *models.ProcessingRecord) error {
	updates := []firestore.Update{
		{Path: "status", Value: rec.Status},
		{Path: "pageCount", Value: rec.PageCount},
		{Path: "outputCount", Value: rec.OutputCount},
		{Path: "exports", Value: rec.Exports},
		{Path: "finishedAt", Value: rec.FinishedAt},
	}
	if rec.ErrorDetails != "" {
		updates = append(updates,
			firestore.Update{Path: "errorKind", Value: string(rec.ErrorKind)},
			firestore.Update{Path: "errorDetails", Value: rec.ErrorDetails},
		)
	}
	if _, err := j.doc(rec.RunID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run document: %w", err)
	}
	return nil
}

func (j *FirestoreJournal) Recent(ctx context.Context, n int) ([]models.ProcessingRecord, error) {
	docs, err := j.client.Collection(j.collection).
		OrderBy("createdAt", firestore.Desc).
		Limit(n).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query run documents: %w", err)
	}
	out := make([]models.ProcessingRecord, 0, len(docs))
	for _, d := range docs {
		var rec models.ProcessingRecord
		if err := d.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", d.Ref.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *FirestoreJournal) Close() error { return j.client.Close() }
