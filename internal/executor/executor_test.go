package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/remotestore"
)

func TestExecutor_CreateDispatchesUpsert(t *testing.T) {
	store := remotestore.NewFakeStore()
	x := New(store)

	payload := entity.Entity{Kind: entity.KindPlayer, ID: "p1"}
	err := x(context.Background(), entity.Operation{Kind: entity.KindPlayer, ID: "p1", Op: entity.OpCreate, Payload: payload})
	require.NoError(t, err)

	got, ok := store.Get(entity.KindPlayer, "p1")
	require.True(t, ok)
	assert.Equal(t, "p1", got.ID)
}

func TestExecutor_DeletePassesPlayerAdjustmentExtra(t *testing.T) {
	store := remotestore.NewFakeStore()
	x := New(store)

	extra := entity.PlayerAdjustmentDeletePayload{PlayerID: "p1"}
	err := x(context.Background(), entity.Operation{
		Kind:    entity.KindPlayerAdjustment,
		ID:      "adj1",
		Op:      entity.OpDelete,
		Payload: extra,
	})
	require.NoError(t, err)
	assert.Equal(t, extra, store.LastDeleteExtra())
}

func TestExecutor_OfflineClassifiesTransient(t *testing.T) {
	store := remotestore.NewFakeStore()
	store.QueueError(remotestore.ErrOffline)
	x := New(store)

	err := x(context.Background(), entity.Operation{
		Kind: entity.KindPlayer, ID: "p2", Op: entity.OpCreate,
		Payload: entity.Entity{Kind: entity.KindPlayer, ID: "p2"},
	})
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ClassTransient, classified.Classification)
}

func TestExecutor_UnknownOpIsPermanent(t *testing.T) {
	store := remotestore.NewFakeStore()
	x := New(store)

	err := x(context.Background(), entity.Operation{Kind: entity.KindPlayer, ID: "p3", Op: "Bogus"})
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ClassPermanent, classified.Classification)
}

func TestExecutor_BadPayloadShapeIsPermanent(t *testing.T) {
	store := remotestore.NewFakeStore()
	x := New(store)

	err := x(context.Background(), entity.Operation{Kind: entity.KindPlayer, ID: "p4", Op: entity.OpCreate, Payload: "not an entity"})
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ClassPermanent, classified.Classification)
}
