package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/blackmichael/forum-sync/internal/cache"
	"github.com/blackmichael/forum-sync/internal/domain"
	"github.com/blackmichael/forum-sync/internal/metrics"
	"github.com/blackmichael/forum-sync/internal/wire"
)

var (
	// ErrMalformed is returned for messages or payloads that cannot be
	// decoded into an update record.
	ErrMalformed = errors.New("malformed push message")

	// ErrUnknownEvent is returned for event names this client does not
	// handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Sink receives update records.
type Sink interface {
	Enqueue(kind domain.UpdateKind, targetKey string, payload any) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(kind domain.UpdateKind, targetKey string, payload any) bool

func (f SinkFunc) Enqueue(kind domain.UpdateKind, targetKey string, payload any) bool {
	return f(kind, targetKey, payload)
}

// decoder turns an event payload into a target key and canonical payload.
type decoder func(data json.RawMessage) (targetKey string, payload any, err error)

var events = map[string]struct {
	kind   domain.UpdateKind
	decode decoder
}{
	"new-post":             {domain.KindPostCreated, decodePost},
	"post-created":         {domain.KindPostCreated, decodePost},
	"post-updated":         {domain.KindPostUpdated, decodePostPatch},
	"post-edited":          {domain.KindPostUpdated, decodePostPatch},
	"post-deleted":         {domain.KindPostDeleted, decodePostRef},
	"post-boosted":         {domain.KindPostBoosted, decodeBoost},
	"post-vote-updated":    {domain.KindPostVoteUpdated, decodeVote(domain.SubjectPost)},
	"new-comment":          {domain.KindCommentCreated, decodeComment},
	"comment-created":      {domain.KindCommentCreated, decodeComment},
	"comment-edited":       {domain.KindCommentEdited, decodeCommentPatch},
	"comment-updated":      {domain.KindCommentEdited, decodeCommentPatch},
	"comment-deleted":      {domain.KindCommentDeleted, decodeCommentRef},
	"comment-vote-updated": {domain.KindCommentVoteUpdated, decodeVote(domain.SubjectComment)},
	"coin-balance-updated": {domain.KindBalanceUpdated, decodeWallet},
	"balance-updated":      {domain.KindBalanceUpdated, decodeWallet},
	"wallet-updated":       {domain.KindBalanceUpdated, decodeWallet},
}

// control messages of the transport carry no update.
var control = map[string]bool{
	"connect":    true,
	"connected":  true,
	"disconnect": true,
	"ping":       true,
	"pong":       true,
	"joined":     true,
	"subscribed": true,
}

// Kind returns the update kind an event name maps to.
func Kind(name string) (domain.UpdateKind, bool) {
	e, ok := events[NormalizeName(name)]
	return e.kind, ok
}

// Stats counts processed messages.
type Stats struct {
	Received  int64 `json:"received"`
	Forwarded int64 `json:"forwarded"`
	Throttled int64 `json:"throttled"`
	Unknown   int64 `json:"unknown"`
	Malformed int64 `json:"malformed"`
}

// Ingestor maps push messages to update records.
type Ingestor struct {
	sink    Sink
	logger  *slog.Logger
	metrics metrics.Recorder

	received  atomic.Int64
	forwarded atomic.Int64
	throttled atomic.Int64
	unknown   atomic.Int64
	malformed atomic.Int64
}

// New creates an ingestor that forwards into sink.
func New(sink Sink, recorder metrics.Recorder, logger *slog.Logger) *Ingestor {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Ingestor{sink: sink, logger: logger, metrics: recorder}
}

// HandleMessage parses a raw push message and forwards its update record.
func (i *Ingestor) HandleMessage(msg []byte) error {
	ev, err := ParseEnvelope(msg)
	if err != nil {
		i.received.Add(1)
		i.malformed.Add(1)
		i.metrics.PushEvent("malformed")
		return err
	}
	return i.HandleEvent(ev.Name, ev.Data)
}

// HandleEvent forwards the update record for a named event. Unknown events
// and payloads without an identity are counted and reported, never
// forwarded.
func (i *Ingestor) HandleEvent(name string, data json.RawMessage) error {
	name = NormalizeName(name)
	if control[name] {
		return nil
	}
	i.received.Add(1)

	e, ok := events[name]
	if !ok {
		i.unknown.Add(1)
		i.metrics.PushEvent("unknown")
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	targetKey, payload, err := e.decode(data)
	if err != nil {
		i.malformed.Add(1)
		i.metrics.PushEvent("malformed")
		return fmt.Errorf("%w: %s: %w", ErrMalformed, name, err)
	}

	if !i.sink.Enqueue(e.kind, targetKey, payload) {
		i.throttled.Add(1)
		i.metrics.PushEvent("throttled")
		i.logger.Debug("update not accepted", "event", name, "target", targetKey)
		return nil
	}
	i.forwarded.Add(1)
	i.metrics.PushEvent("forwarded")
	return nil
}

// Stats returns the ingestor's counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Received:  i.received.Load(),
		Forwarded: i.forwarded.Load(),
		Throttled: i.throttled.Load(),
		Unknown:   i.unknown.Load(),
		Malformed: i.malformed.Load(),
	}
}

func decodePost(data json.RawMessage) (string, any, error) {
	p, err := wire.DecodePost(data)
	return p.ID, p, err
}

func decodePostPatch(data json.RawMessage) (string, any, error) {
	p, err := wire.DecodePostPatch(data)
	return p.ID, p, err
}

func decodePostRef(data json.RawMessage) (string, any, error) {
	ref, err := wire.DecodePostRef(data)
	return ref.ID, ref, err
}

func decodeBoost(data json.RawMessage) (string, any, error) {
	b, err := wire.DecodeBoost(data)
	return b.PostID, b, err
}

func decodeVote(subject domain.SubjectType) decoder {
	return func(data json.RawMessage) (string, any, error) {
		u, err := wire.DecodeVote(data, subject)
		return u.SubjectID, u, err
	}
}

func decodeComment(data json.RawMessage) (string, any, error) {
	c, err := wire.DecodeComment(data)
	return c.ID, c, err
}

func decodeCommentPatch(data json.RawMessage) (string, any, error) {
	c, err := wire.DecodeCommentPatch(data)
	return c.ID, c, err
}

func decodeCommentRef(data json.RawMessage) (string, any, error) {
	ref, err := wire.DecodeCommentRef(data)
	return ref.ID, ref, err
}

func decodeWallet(data json.RawMessage) (string, any, error) {
	u, err := wire.DecodeWallet(data)
	return cache.WalletKey, u, err
}
