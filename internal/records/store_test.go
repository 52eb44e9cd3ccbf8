package records_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecampus/gitgateway/internal/records"
)

func newStore(t *testing.T) records.Store {
	t.Helper()

	store, err := records.NewFileStore(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)
	return store
}

func TestPutTemplateIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	first, err := store.PutTemplate(ctx, &records.Record{
		AssignmentID: "a1",
		CourseID:     "c1",
		Path:         "cs101/homework-1",
		Private:      true,
	})
	require.NoError(t, err)

	// A second insert for the same assignment returns the existing record
	// unchanged.
	second, err := store.PutTemplate(ctx, &records.Record{
		AssignmentID: "a1",
		CourseID:     "c1",
		Path:         "cs101/other-path",
	})
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestPutSubmissionIdempotent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	first, err := store.PutSubmission(ctx, &records.Record{
		AssignmentID: "a1",
		UserID:       "u1",
		SubmissionID: "s1",
		CourseID:     "c1",
		Path:         "alice/cs101-homework-1-alice",
	})
	require.NoError(t, err)
	assert.Equal(t, records.StatusDraft, first.Status)

	second, err := store.PutSubmission(ctx, &records.Record{
		AssignmentID: "a1",
		UserID:       "u1",
		SubmissionID: "s2",
		CourseID:     "c1",
		Path:         "alice/other",
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", second.SubmissionID)
	assert.Equal(t, first.Path, second.Path)
}

func TestPutValidation(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.PutTemplate(ctx, &records.Record{AssignmentID: "a1"})
	require.Error(t, err)

	_, err = store.PutSubmission(ctx, &records.Record{AssignmentID: "a1", UserID: "u1", Path: "p"})
	require.Error(t, err, "submission id is required")
}

func TestLookups(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.TemplateByAssignment(ctx, "missing")
	assert.ErrorIs(t, err, records.ErrNotFound)

	_, err = store.SubmissionByAssignment(ctx, "a1", "u1")
	assert.ErrorIs(t, err, records.ErrNotFound)

	_, err = store.SubmissionByID(ctx, "s1")
	assert.ErrorIs(t, err, records.ErrNotFound)

	_, err = store.PutSubmission(ctx, &records.Record{
		AssignmentID: "a1",
		UserID:       "u1",
		SubmissionID: "s1",
		CourseID:     "c1",
		Path:         "alice/repo",
	})
	require.NoError(t, err)

	byPair, err := store.SubmissionByAssignment(ctx, "a1", "u1")
	require.NoError(t, err)
	byID, err := store.SubmissionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, byPair.Path, byID.Path)
}

func TestSetStatusAndPrivate(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.PutSubmission(ctx, &records.Record{
		AssignmentID: "a1",
		UserID:       "u1",
		SubmissionID: "s1",
		CourseID:     "c1",
		Path:         "alice/repo",
		Private:      true,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, "s1", records.StatusSubmitted))
	require.NoError(t, store.SetPrivate(ctx, records.KindSubmission, "s1", false))

	rec, err := store.SubmissionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, records.StatusSubmitted, rec.Status)
	assert.False(t, rec.Private)

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", records.StatusSubmitted), records.ErrNotFound)
	assert.ErrorIs(t, store.SetPrivate(ctx, records.KindTemplate, "missing", true), records.ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.json")
	ctx := context.Background()

	store, err := records.NewFileStore(path)
	require.NoError(t, err)
	_, err = store.PutTemplate(ctx, &records.Record{
		AssignmentID: "a1",
		CourseID:     "c1",
		Path:         "cs101/homework-1",
	})
	require.NoError(t, err)

	reopened, err := records.NewFileStore(path)
	require.NoError(t, err)
	rec, err := reopened.TemplateByAssignment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "cs101/homework-1", rec.Path)
	assert.Equal(t, records.KindTemplate, rec.Kind)
}
