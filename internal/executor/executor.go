// Package executor implements the Sync Executor: a pure, stateless function
// from one queue entry to the appropriate Remote Store call, with error
// classification per the taxonomy in spec.md §7.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/queue"
	"github.com/matchops/local-sync/internal/remotestore"
)

// Classification is the error taxonomy the engine reacts to.
type Classification string

const (
	ClassTransient Classification = "TransientRemoteError"
	ClassPermanent Classification = "PermanentRemoteError"
	ClassAuthLost  Classification = "AuthLostError"
)

// Error wraps a classified remote-dispatch failure.
type Error struct {
	Classification Classification
	Cause          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Classification, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Func is the executor's shape: one queue entry in, one classified error
// (or nil) out. The engine holds exactly one Func.
type Func func(ctx context.Context, op entity.Operation) error

// New binds a Func against a concrete remotestore.Store. The executor is
// side-effect free on local state: it only calls store.
func New(store remotestore.Store) Func {
	return func(ctx context.Context, op entity.Operation) error {
		var err error
		switch op.Op {
		case entity.OpCreate, entity.OpUpdate:
			payload, ok := op.Payload.(entity.Entity)
			if !ok {
				// Callers are expected to hand the executor the stored
				// entity.Entity value; anything else is a programming
				// error at the write-through boundary, not a remote
				// failure, but we still classify it so the engine has a
				// uniform contract.
				return &Error{Classification: ClassPermanent, Cause: fmt.Errorf("executor: payload for %s is not an entity.Entity", op.Key())}
			}
			err = store.Upsert(ctx, op.Kind, payload)
		case entity.OpDelete:
			var extra interface{}
			if op.Kind == entity.KindPlayerAdjustment {
				extra = op.Payload
			}
			err = store.Delete(ctx, op.Kind, op.ID, extra)
		default:
			return &Error{Classification: ClassPermanent, Cause: fmt.Errorf("executor: unknown op %q", op.Op)}
		}
		if err == nil {
			return nil
		}
		return classify(err)
	}
}

// classify maps a raw remote-store error to the engine's taxonomy.
//
// - context.DeadlineExceeded and remotestore.ErrOffline are Transient.
// - AWS SDK v2 API errors with HTTP status 5xx are Transient; 401/403
//   classify AuthLost; any other 4xx is Permanent.
// - Anything unrecognized defaults to Transient: correctness favors
//   retrying an unclassified failure over silently dropping it.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, remotestore.ErrOffline) {
		return &Error{Classification: ClassTransient, Cause: err}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == 401 || status == 403:
			return &Error{Classification: ClassAuthLost, Cause: err}
		case status >= 500:
			return &Error{Classification: ClassTransient, Cause: err}
		case status >= 400:
			return &Error{Classification: ClassPermanent, Cause: err}
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "UnauthorizedAccess", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return &Error{Classification: ClassAuthLost, Cause: err}
		}
		return &Error{Classification: ClassPermanent, Cause: err}
	}

	return &Error{Classification: ClassTransient, Cause: err}
}

// compile-time assertion that queue.Entry.Op (entity.Operation) is what
// Func consumes; kept here rather than in the queue package so the two
// packages stay decoupled beyond this one shape.
var _ = func(e *queue.Entry) entity.Operation { return e.Op }
