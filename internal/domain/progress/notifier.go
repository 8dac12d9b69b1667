package progress

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medreport/medreport/internal/platform/auth"
	"github.com/medreport/medreport/internal/platform/websocket"
)

const (
	topicPrefix = "upload/"
	eventType   = "upload.progress"
)

// Topic is the websocket topic carrying a session's progress frames.
func Topic(sessionID string) string {
	return topicPrefix + sessionID
}

// HubNotifier publishes every session change to the websocket hub.
type HubNotifier struct {
	pub    websocket.EventPublisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewHubNotifier(pub websocket.EventPublisher, logger zerolog.Logger) *HubNotifier {
	return &HubNotifier{pub: pub, logger: logger, now: time.Now}
}

func (n *HubNotifier) SessionChanged(s Session) {
	evt, err := sessionEvent(s, n.now())
	if err != nil {
		n.logger.Error().Err(err).Str("session_id", s.ID).Msg("encode progress event")
		return
	}
	if err := n.pub.Publish(context.Background(), evt); err != nil {
		n.logger.Warn().Err(err).Str("session_id", s.ID).Msg("publish progress event")
	}
}

func sessionEvent(s Session, now time.Time) (websocket.Event, error) {
	data, err := json.Marshal(s.ToResponse(now))
	if err != nil {
		return websocket.Event{}, err
	}
	return websocket.Event{
		Type:      eventType,
		Topic:     Topic(s.ID),
		Timestamp: now,
		Data:      data,
	}, nil
}

// SnapshotFunc lets the hub greet a new subscriber of upload/<id> with the
// session's current state.
func (r *Registry) SnapshotFunc() websocket.SnapshotFunc {
	return func(topic string) (websocket.Event, bool) {
		id, ok := strings.CutPrefix(topic, topicPrefix)
		if !ok {
			return websocket.Event{}, false
		}
		s, ok := r.GetSession(id)
		if !ok {
			return websocket.Event{}, false
		}
		evt, err := sessionEvent(s, r.now())
		if err != nil {
			return websocket.Event{}, false
		}
		return evt, true
	}
}

// TopicAuthorizer admits a subscription to upload/<id> only for a session
// visible to the client. Other topics carry no session data and are allowed.
func (r *Registry) TopicAuthorizer() websocket.TopicAuthorizer {
	return func(client *websocket.Client, topic string) bool {
		id, ok := strings.CutPrefix(topic, topicPrefix)
		if !ok {
			return true
		}
		s, ok := r.GetSession(id)
		if !ok {
			return false
		}
		return s.VisibleTo(client.Subject, client.Role == string(auth.RoleAdmin))
	}
}
