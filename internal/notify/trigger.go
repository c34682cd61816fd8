package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/service"
)

// ErrNotConnected the broker connection is down.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// Subscriber the part of Client the trigger needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
	IsConnected() bool
}

// message optional payload naming the views to refresh.
//
//	{"views": ["active", "statistics"]}
//
// An empty or unparsable payload refreshes every view.
type message struct {
	Views []string `json:"views"`
}

// Trigger invalidates claim views when a message arrives on
// <prefix>/<userId> for the followed user.
type Trigger struct {
	sub    Subscriber
	prefix string
	qos    byte
	model  service.Invalidator
	logger *zap.Logger

	mu    sync.Mutex
	topic string
}

func NewTrigger(sub Subscriber, prefix string, qos byte, model service.Invalidator, logger *zap.Logger) *Trigger {
	return &Trigger{
		sub:    sub,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		model:  model,
		logger: logger,
	}
}

// Topic for userID.
func (t *Trigger) Topic(userID domain.ID) string {
	return t.prefix + "/" + userID.String()
}

// Follow moves the subscription to userID. An empty id only unsubscribes.
func (t *Trigger) Follow(userID domain.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := ""
	if !userID.IsZero() {
		next = t.Topic(userID)
	}
	if next == t.topic {
		return nil
	}
	if t.topic != "" {
		if err := t.sub.Unsubscribe(t.topic); err != nil {
			t.logger.Warn("Failed to unsubscribe", zap.String("topic", t.topic), zap.Error(err))
		}
		t.topic = ""
	}
	if next == "" {
		return nil
	}
	if !t.sub.IsConnected() {
		return ErrNotConnected
	}
	if err := t.sub.Subscribe(next, t.qos, t.HandleMessage); err != nil {
		return err
	}
	t.topic = next
	t.logger.Info("Following claim updates", zap.String("topic", next))
	return nil
}

// HandleMessage invalidates the views named by payload.
func (t *Trigger) HandleMessage(topic string, payload []byte) error {
	t.mu.Lock()
	current := t.topic
	t.mu.Unlock()
	if topic != current {
		t.logger.Debug("Ignoring message for another user", zap.String("topic", topic))
		return nil
	}

	views, err := parseViews(payload)
	if err != nil {
		t.logger.Debug("Unrecognized payload, refreshing all views", zap.Error(err))
		views = nil
	}
	t.model.Invalidate(views...)
	t.logger.Debug("Claim update received", zap.String("topic", topic), zap.Int("views", len(views)))
	return nil
}

// Close drops the current subscription.
func (t *Trigger) Close() error {
	return t.Follow("")
}

func parseViews(payload []byte) ([]service.View, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, nil
	}
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	views := make([]service.View, 0, len(msg.Views))
	for _, name := range msg.Views {
		v, err := service.ParseView(name)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
