package mongoutils

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go.viam.com/callsignal"
)

// A ChangeEvent represents the fields of a change stream response document that
// call subscriptions read.
type ChangeEvent struct {
	ID                bson.RawValue                `bson:"_id"`
	OperationType     ChangeEventOperationType     `bson:"operationType"`
	FullDocument      bson.RawValue                `bson:"fullDocument"`
	NS                ChangeEventNamespace         `bson:"ns"`
	DocumentKey       bson.D                       `bson:"documentKey"`
	UpdateDescription ChangeEventUpdateDescription `bson:"updateDescription"`
	ClusterTime       primitive.Timestamp          `bson:"clusterTime"`
}

// ChangeEventOperationType is the type of operation that occurred.
type ChangeEventOperationType string

// ChangeEvent operation types.
const (
	ChangeEventOperationTypeInsert     = ChangeEventOperationType("insert")
	ChangeEventOperationTypeDelete     = ChangeEventOperationType("delete")
	ChangeEventOperationTypeReplace    = ChangeEventOperationType("replace")
	ChangeEventOperationTypeUpdate     = ChangeEventOperationType("update")
	ChangeEventOperationTypeInvalidate = ChangeEventOperationType("invalidate")
)

// HasFullDocument returns whether the operation carries the document as it is after the change.
func (t ChangeEventOperationType) HasFullDocument() bool {
	switch t {
	case ChangeEventOperationTypeInsert, ChangeEventOperationTypeReplace, ChangeEventOperationTypeUpdate:
		return true
	default:
		return false
	}
}

// ChangeEventNamespace is the namespace (database and or collection) affected by the event.
type ChangeEventNamespace struct {
	Database   string `bson:"db"`
	Collection string `bson:"coll"`
}

// ChangeEventUpdateDescription describes the fields that were updated or removed
// by an update operation.
type ChangeEventUpdateDescription struct {
	UpdatedFields bson.D   `bson:"updatedFields"`
	RemovedFields []string `bson:"removedFields"`
}

// ChangeEventResult represents either an event happening or an error that happened
// along the way. ResumeToken can be used to reopen the stream after the event.
type ChangeEventResult struct {
	Event       *ChangeEvent
	ResumeToken bson.Raw
	Error       error
}

// ChangeStreamBackground calls Next in the background and returns once at least one attempt has
// been made. It returns a series of results that can be received until the context is done
// or the stream fails, along with the resume token current as of the first attempt. The
// results channel is closed when the background goroutine exits.
func ChangeStreamBackground(ctx context.Context, cs *mongo.ChangeStream) (<-chan ChangeEventResult, bson.Raw) {
	results := make(chan ChangeEventResult, 1)
	csStarted := make(chan struct{})
	var startToken bson.Raw
	sendResult := func(result ChangeEventResult) bool {
		select {
		case <-ctx.Done():
			// try once more so a waiting receiver still learns why we stopped
			select {
			case results <- result:
			default:
			}
			return false
		case results <- result:
			return true
		}
	}
	callsignal.PanicCapturingGo(func() {
		defer close(results)

		started := false
		markStarted := func() {
			if !started {
				started = true
				startToken = cs.ResumeToken()
				close(csStarted)
			}
		}
		defer markStarted()

		for {
			if ctx.Err() != nil {
				markStarted()
				sendResult(ChangeEventResult{Error: ctx.Err()})
				return
			}

			// TryNext returns immediately when no event is buffered, which lets the
			// caller know the stream is established before we block in Next.
			if !cs.TryNext(ctx) {
				markStarted()
				if !cs.Next(ctx) {
					sendResult(ChangeEventResult{Error: cs.Err()})
					return
				}
			}
			markStarted()

			var ce ChangeEvent
			if err := cs.Decode(&ce); err != nil {
				sendResult(ChangeEventResult{Error: err})
				return
			}
			if !sendResult(ChangeEventResult{Event: &ce, ResumeToken: cs.ResumeToken()}) {
				return
			}
		}
	})
	<-csStarted
	return results, startToken
}
