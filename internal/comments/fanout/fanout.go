// Package fanout delivers comment events to subscriber groups addressed by
// thread identity. Publication is fire-and-forget: the triggering write has
// already committed, so transport failures are logged and swallowed, never
// surfaced to the writer.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GroupFeed receives every root comment creation. Replies go only to
// their thread's group, keyed by the root comment's public id.
const GroupFeed = "comments.feed"

func ThreadGroup(rootID string) string { return "comments.thread." + rootID }

// Event types carried on the groups.
const (
	TypeCommentCreated = "comment_created"
	TypeReplyCreated   = "reply_created"
)

// Event is the envelope every subscriber receives.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Comment    any       `json:"comment"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Transport is the pub/sub boundary: at-most-once, best-effort, FIFO per
// group, no durability. Subscribers only see events published while they
// are members; missed state is re-fetched from the comment store.
type Transport interface {
	Publish(group string, payload []byte) error
	Subscribe(group string) (events <-chan []byte, cancel func(), err error)
}

// Publisher fans comment events out to the right group. A nil Publisher
// and a Publisher with a nil transport are both safe no-op stubs.
type Publisher struct {
	tr  Transport
	log *zap.Logger
}

func NewPublisher(tr Transport, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{tr: tr, log: log}
}

// CommentCreated announces a new root comment on the global feed group.
func (p *Publisher) CommentCreated(rendered any) {
	p.publish(GroupFeed, TypeCommentCreated, rendered)
}

// ReplyCreated announces a new reply on its thread's group only, keeping
// fan-out cost bounded to the subscribers watching that thread.
func (p *Publisher) ReplyCreated(rootID string, rendered any) {
	p.publish(ThreadGroup(rootID), TypeReplyCreated, rendered)
}

func (p *Publisher) publish(group, eventType string, rendered any) {
	if p == nil || p.tr == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Comment:    rendered,
		OccurredAt: time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("fanout: marshal failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := p.tr.Publish(group, data); err != nil {
		p.log.Warn("fanout: publish failed", zap.String("group", group), zap.Error(err))
	}
}
