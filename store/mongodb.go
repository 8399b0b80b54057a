package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	mongoutils "go.viam.com/callsignal/mongo"
	"go.viam.com/callsignal/trace"
)

func init() {
	mongoutils.MustRegisterNamespace(&mongodbCallsDBName, &mongodbCallsCollName)
}

var (
	mongodbCallsDBName     = "callsignal"
	mongodbCallsCollName   = "calls"
	mongodbCallsExpireName = "calls_expire"
)

const (
	callIDField               = "_id"
	callCallerIDField         = "caller_id"
	callCalleeIDField         = "callee_id"
	callStatusField           = "status"
	callOfferField            = "offer"
	callAnswerField           = "answer"
	callOfferCandidatesField  = "offer_candidates"
	callAnswerCandidatesField = "answer_candidates"
	callCreatedAtField        = "created_at"
)

type mongodbSessionDescription struct {
	Type string `bson:"type"`
	SDP  string `bson:"sdp"`
}

type mongodbICECandidate struct {
	Candidate        string  `bson:"candidate"`
	SDPMid           *string `bson:"sdp_mid"`
	SDPMLineIndex    *uint16 `bson:"sdp_m_line_index"`
	UsernameFragment *string `bson:"username_fragment"`
}

type mongodbCall struct {
	ID               string                     `bson:"_id"`
	CallerID         string                     `bson:"caller_id"`
	CalleeID         string                     `bson:"callee_id"`
	CallerName       string                     `bson:"caller_name,omitempty"`
	CalleeName       string                     `bson:"callee_name,omitempty"`
	Status           string                     `bson:"status"`
	Offer            *mongodbSessionDescription `bson:"offer,omitempty"`
	Answer           *mongodbSessionDescription `bson:"answer,omitempty"`
	OfferCandidates  []mongodbICECandidate      `bson:"offer_candidates,omitempty"`
	AnswerCandidates []mongodbICECandidate      `bson:"answer_candidates,omitempty"`
	CreatedAt        time.Time                  `bson:"created_at"`
}

// MongoDBStore is a signaling store backed by a MongoDB collection. Subscriptions are
// served by change streams so participants may live in different processes.
type MongoDBStore struct {
	callsColl *mongo.Collection
	logger    golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	closed                  atomic.Bool
}

// NewMongoDBStore returns a store persisting calls in the given client's database.
// Calls are removed by a TTL index once they are older than retention; zero means
// DefaultRetention.
func NewMongoDBStore(
	ctx context.Context,
	client *mongo.Client,
	retention time.Duration,
	logger golog.Logger,
) (*MongoDBStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	callsColl := client.Database(mongodbCallsDBName).Collection(mongodbCallsCollName)

	expireAfter := int32(retention.Seconds())
	if expireAfter < 1 {
		expireAfter = 1
	}
	callsIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: callCalleeIDField, Value: 1},
				{Key: callStatusField, Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: callCreatedAtField, Value: 1},
			},
			Options: &options.IndexOptions{
				Name:               &mongodbCallsExpireName,
				ExpireAfterSeconds: &expireAfter,
			},
		},
	}
	if err := mongoutils.EnsureIndexes(ctx, callsColl, callsIndexes...); err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &MongoDBStore{
		callsColl:  callsColl,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// CreateCall inserts a new ringing call.
func (s *MongoDBStore) CreateCall(ctx context.Context, rec *call.Record) (*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::MongoDB::CreateCall")
	defer span.End()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	prepared, err := prepareNewCall(rec, uuid.NewString(), time.Now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("call_id", prepared.ID))

	if _, err := s.callsColl.InsertOne(ctx, callToMongo(prepared)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyExists
		}
		return nil, errors.Wrap(err, "failed to insert call")
	}
	return prepared, nil
}

// GetCall returns the call with the given id.
func (s *MongoDBStore) GetCall(ctx context.Context, id string) (*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::MongoDB::GetCall")
	defer span.End()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	var doc mongodbCall
	if err := s.callsColl.FindOne(ctx, bson.D{{Key: callIDField, Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find call")
	}
	return callFromMongo(&doc), nil
}

// UpdateCall applies the update with a single conditional write. The filter encodes the
// record's invariants; when nothing matches, the current record is read back to report
// which one the update broke.
func (s *MongoDBStore) UpdateCall(ctx context.Context, id string, update call.Update) error {
	ctx, span := trace.StartSpan(ctx, "store::MongoDB::UpdateCall")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", id))

	if err := update.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if update.IsEmpty() {
		_, err := s.GetCall(ctx, id)
		return err
	}

	filter, set := updateToMongo(id, update)
	result, err := s.callsColl.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return errors.Wrap(err, "failed to update call")
	}
	if result.MatchedCount != 0 {
		return nil
	}

	rec, err := s.GetCall(ctx, id)
	if err != nil {
		return err
	}
	if err := update.Check(rec); err != nil {
		return err
	}
	return ErrUpdateConflict
}

func updateToMongo(id string, update call.Update) (bson.D, bson.D) {
	filter := bson.D{{Key: callIDField, Value: id}}
	var conditions bson.A
	set := bson.D{}

	if update.UnlessEnded || (update.Status != nil && *update.Status != call.StatusEnded) {
		filter = append(filter, bson.E{Key: callStatusField, Value: bson.D{{Key: "$ne", Value: string(call.StatusEnded)}}})
	}
	if update.Status != nil {
		set = append(set, bson.E{Key: callStatusField, Value: string(*update.Status)})
	}
	if update.Offer != nil {
		offer := descriptionToMongo(update.Offer)
		conditions = append(conditions, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: callOfferField, Value: nil}},
			bson.D{{Key: callOfferField, Value: offer}},
		}}})
		set = append(set, bson.E{Key: callOfferField, Value: offer})
	}
	if update.Answer != nil {
		answer := descriptionToMongo(update.Answer)
		if update.Offer == nil {
			conditions = append(conditions, bson.D{{Key: callOfferField, Value: bson.D{{Key: "$ne", Value: nil}}}})
		}
		conditions = append(conditions, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: callAnswerField, Value: nil}},
			bson.D{{Key: callAnswerField, Value: answer}},
		}}})
		set = append(set, bson.E{Key: callAnswerField, Value: answer})
	}
	if update.OfferCandidates != nil {
		conditions = append(conditions, candidatesShorterThan(callOfferCandidatesField, len(update.OfferCandidates)))
		set = append(set, bson.E{Key: callOfferCandidatesField, Value: candidatesToMongo(update.OfferCandidates)})
	}
	if update.AnswerCandidates != nil {
		conditions = append(conditions, candidatesShorterThan(callAnswerCandidatesField, len(update.AnswerCandidates)))
		set = append(set, bson.E{Key: callAnswerCandidatesField, Value: candidatesToMongo(update.AnswerCandidates)})
	}
	if len(conditions) != 0 {
		filter = append(filter, bson.E{Key: "$and", Value: conditions})
	}
	return filter, set
}

// candidatesShorterThan matches documents whose candidate array has at most n entries.
func candidatesShorterThan(field string, n int) bson.D {
	return bson.D{{Key: fmt.Sprintf("%s.%d", field, n), Value: bson.D{{Key: "$exists", Value: false}}}}
}

// SubscribeCall watches a single call through a change stream.
func (s *MongoDBStore) SubscribeCall(ctx context.Context, id string) (<-chan *call.Record, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	var successful bool
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.cancelCtx, cancel)
	defer func() {
		if !successful {
			stopOnClose()
			cancel()
		}
	}()

	cs, err := s.callsColl.Watch(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to watch call")
	}
	events, _ := mongoutils.ChangeStreamBackground(ctx, cs)
	defer func() {
		if !successful {
			cancel()
			for range events {
			}
			callsignal.UncheckedError(cs.Close(context.Background()))
		}
	}()

	// reading after the stream is open means no change can fall in between.
	rec, err := s.GetCall(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f := newFeed[*call.Record]()
	f.publish(rec)

	s.activeBackgroundWorkers.Add(1)
	callsignal.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		defer f.close()
		defer func() {
			cancel()
			stopOnClose()
			for range events {
			}
			callsignal.UncheckedError(cs.Close(context.Background()))
		}()

		for next := range events {
			if next.Error != nil {
				if ctx.Err() == nil {
					s.logger.Errorw("call change stream failed", "call_id", id, "error", next.Error)
				}
				return
			}
			switch next.Event.OperationType {
			case mongoutils.ChangeEventOperationTypeDelete, mongoutils.ChangeEventOperationTypeInvalidate:
				return
			default:
			}
			if !next.Event.OperationType.HasFullDocument() ||
				next.Event.FullDocument.Type != bson.TypeEmbeddedDocument {
				continue
			}
			var doc mongodbCall
			if err := next.Event.FullDocument.Unmarshal(&doc); err != nil {
				s.logger.Errorw("failed to decode call change", "call_id", id, "error", err)
				continue
			}
			f.publish(callFromMongo(&doc))
		}
	})

	successful = true
	return f.ch, cancel, nil
}

// ListenIncomingCalls watches the ringing calls for the given callee. Every change to one
// of the callee's calls triggers a fresh query.
func (s *MongoDBStore) ListenIncomingCalls(ctx context.Context, userID string) (<-chan []*call.Record, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	var successful bool
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.cancelCtx, cancel)
	defer func() {
		if !successful {
			stopOnClose()
			cancel()
		}
	}()

	cs, err := s.callsColl.Watch(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "fullDocument." + callCalleeIDField, Value: userID}}}},
	}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to watch incoming calls")
	}
	events, _ := mongoutils.ChangeStreamBackground(ctx, cs)
	defer func() {
		if !successful {
			cancel()
			for range events {
			}
			callsignal.UncheckedError(cs.Close(context.Background()))
		}
	}()

	recs, err := s.incomingCalls(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	f := newFeed[[]*call.Record]()
	f.publish(recs)

	s.activeBackgroundWorkers.Add(1)
	callsignal.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		defer f.close()
		defer func() {
			cancel()
			stopOnClose()
			for range events {
			}
			callsignal.UncheckedError(cs.Close(context.Background()))
		}()

		for next := range events {
			if next.Error != nil {
				if ctx.Err() == nil {
					s.logger.Errorw("incoming calls change stream failed", "user_id", userID, "error", next.Error)
				}
				return
			}
			recs, err := s.incomingCalls(ctx, userID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Errorw("failed to query incoming calls", "user_id", userID, "error", err)
				}
				return
			}
			f.publish(recs)
		}
	})

	successful = true
	return f.ch, cancel, nil
}

func (s *MongoDBStore) incomingCalls(ctx context.Context, userID string) ([]*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::MongoDB::incomingCalls")
	defer span.End()

	cursor, err := s.callsColl.Find(ctx, bson.D{
		{Key: callCalleeIDField, Value: userID},
		{Key: callStatusField, Value: string(call.StatusRinging)},
	}, options.Find().SetSort(bson.D{{Key: callCreatedAtField, Value: 1}, {Key: callIDField, Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to find incoming calls")
	}
	var docs []mongodbCall
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode incoming calls")
	}
	recs := make([]*call.Record, 0, len(docs))
	for i := range docs {
		recs = append(recs, callFromMongo(&docs[i]))
	}
	sortIncoming(recs)
	return recs, nil
}

// Close ends every subscription. The client is owned by the caller.
func (s *MongoDBStore) Close() error {
	s.closed.Store(true)
	s.cancelFunc()
	s.activeBackgroundWorkers.Wait()
	return nil
}

func callToMongo(rec *call.Record) *mongodbCall {
	return &mongodbCall{
		ID:               rec.ID,
		CallerID:         rec.CallerID,
		CalleeID:         rec.CalleeID,
		CallerName:       rec.CallerName,
		CalleeName:       rec.CalleeName,
		Status:           string(rec.Status),
		Offer:            descriptionToMongo(rec.Offer),
		Answer:           descriptionToMongo(rec.Answer),
		OfferCandidates:  candidatesToMongo(rec.OfferCandidates),
		AnswerCandidates: candidatesToMongo(rec.AnswerCandidates),
		CreatedAt:        rec.CreatedAt,
	}
}

func callFromMongo(doc *mongodbCall) *call.Record {
	return &call.Record{
		ID:               doc.ID,
		CallerID:         doc.CallerID,
		CalleeID:         doc.CalleeID,
		CallerName:       doc.CallerName,
		CalleeName:       doc.CalleeName,
		Status:           call.Status(doc.Status),
		Offer:            descriptionFromMongo(doc.Offer),
		Answer:           descriptionFromMongo(doc.Answer),
		OfferCandidates:  candidatesFromMongo(doc.OfferCandidates),
		AnswerCandidates: candidatesFromMongo(doc.AnswerCandidates),
		CreatedAt:        doc.CreatedAt.UTC(),
	}
}

func descriptionToMongo(desc *call.SessionDescription) *mongodbSessionDescription {
	if desc == nil {
		return nil
	}
	return &mongodbSessionDescription{Type: desc.Type, SDP: desc.SDP}
}

func descriptionFromMongo(desc *mongodbSessionDescription) *call.SessionDescription {
	if desc == nil {
		return nil
	}
	return &call.SessionDescription{Type: desc.Type, SDP: desc.SDP}
}

func candidatesToMongo(cands []call.ICECandidate) []mongodbICECandidate {
	if cands == nil {
		return nil
	}
	out := make([]mongodbICECandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, iceCandidateToMongo(c))
	}
	return out
}

func candidatesFromMongo(cands []mongodbICECandidate) []call.ICECandidate {
	if len(cands) == 0 {
		return nil
	}
	out := make([]call.ICECandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, iceCandidateFromMongo(c))
	}
	return out
}

func iceCandidateToMongo(i call.ICECandidate) mongodbICECandidate {
	candidate := mongodbICECandidate{
		Candidate: i.Candidate,
	}
	if i.SDPMid != nil {
		val := *i.SDPMid
		candidate.SDPMid = &val
	}
	if i.SDPMLineIndex != nil {
		val := *i.SDPMLineIndex
		candidate.SDPMLineIndex = &val
	}
	if i.UsernameFragment != nil {
		val := *i.UsernameFragment
		candidate.UsernameFragment = &val
	}
	return candidate
}

func iceCandidateFromMongo(i mongodbICECandidate) call.ICECandidate {
	candidate := call.ICECandidate{
		Candidate: i.Candidate,
	}
	if i.SDPMid != nil {
		val := *i.SDPMid
		candidate.SDPMid = &val
	}
	if i.SDPMLineIndex != nil {
		val := *i.SDPMLineIndex
		candidate.SDPMLineIndex = &val
	}
	if i.UsernameFragment != nil {
		val := *i.UsernameFragment
		candidate.UsernameFragment = &val
	}
	return candidate
}
