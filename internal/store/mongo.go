package store

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/mongo"
)

const collection = "call_results"

// ErrNotFound means no record exists for the requested call id.
var ErrNotFound = stderrors.New("call record not found")

// CallRecord is the persisted shape of a finalized call session.
type CallRecord struct {
	CallID      string            `bson:"call_id" json:"callId"`
	PhoneNumber string            `bson:"phone_number" json:"phoneNumber"`
	Status      string            `bson:"status" json:"status"`
	Disposition string            `bson:"disposition" json:"disposition"`
	Summary     string            `bson:"summary" json:"summary"`
	FailReason  string            `bson:"fail_reason,omitempty" json:"failReason,omitempty"`
	StartedAt   *time.Time        `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt     *time.Time        `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	DurationSec float64           `bson:"duration_sec" json:"durationSec"`
	Transcript  []call.DialogTurn `bson:"transcript" json:"transcript"`
	RecordedAt  time.Time         `bson:"recorded_at" json:"recordedAt"`
}

// MongoRecorder persists finalized call sessions.
type MongoRecorder struct {
	db *mongo.Client
}

func NewMongoRecorder(db *mongo.Client) *MongoRecorder {
	return &MongoRecorder{db: db}
}

// EnsureIndexes creates the indexes the read paths depend on.
func (r *MongoRecorder) EnsureIndexes(ctx context.Context) error {
	unique := true
	_, err := r.db.Collection(collection).Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "call_id", Value: 1}},
			Options: &options.IndexOptions{Unique: &unique},
		},
		{
			Keys: bson.D{{Key: "ended_at", Value: -1}},
		},
	})
	return err
}

// RecordCallResult upserts the finalized session keyed by call id, so a
// retried finalize never duplicates a record.
func (r *MongoRecorder) RecordCallResult(ctx context.Context, sess *call.Session) error {
	rec := recordFromSession(sess)

	_, err := r.db.NewQuery(collection).
		Eq("call_id", rec.CallID).
		Upsert(ctx, rec)
	if err != nil {
		return errors.E(errors.KindFinalization, err)
	}
	return nil
}

// GetCall fetches one finalized call by id.
func (r *MongoRecorder) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	var rec CallRecord
	err := r.db.NewQuery(collection).
		Eq("call_id", callID).
		FindOne(ctx, &rec)
	if err == mongodriver.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the most recently ended calls, newest first.
func (r *MongoRecorder) ListRecent(ctx context.Context, limit int64) ([]CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var recs []CallRecord
	err := r.db.NewQuery(collection).
		Sort("ended_at", false).
		Limit(limit).
		Find(ctx, &recs)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func recordFromSession(sess *call.Session) CallRecord {
	rec := CallRecord{
		CallID:      sess.ID,
		PhoneNumber: sess.PhoneNumber,
		Status:      sess.Status().String(),
		Disposition: string(sess.Disposition()),
		Summary:     sess.Summary(),
		FailReason:  sess.FailReason(),
		DurationSec: sess.Duration().Seconds(),
		Transcript:  sess.Transcript(),
		RecordedAt:  time.Now(),
	}
	if t := sess.StartedAt(); !t.IsZero() {
		rec.StartedAt = &t
	}
	if t := sess.EndedAt(); !t.IsZero() {
		rec.EndedAt = &t
	}
	return rec
}
