package ingest

import (
	"context"

	"github.com/sanonone/lacuna/internal/store"
)

// StoreAdapter feeds pipeline documents into the SQLite store. Embeddings
// are not written here; the vectorizer picks up pending rows on its own.
type StoreAdapter struct {
	Store *store.Store
}

func (a *StoreAdapter) Put(ctx context.Context, doc Document) error {
	return a.Store.UpsertPatent(ctx, store.Patent{
		ID:         doc.ID,
		Title:      doc.Title,
		Abstract:   doc.Abstract,
		Assignee:   doc.Assignee,
		AssigneeID: doc.AssigneeID,
		Date:       doc.Date,
		CPCCodes:   doc.CPCCodes,
	})
}

func (a *StoreAdapter) PutAssignee(ctx context.Context, id, name string) error {
	return a.Store.UpsertAssignee(ctx, id, name)
}
