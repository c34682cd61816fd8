package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/api"
	"github.com/moumen26/insurance-client-side/internal/domain"
)

var (
	ErrDisputeNotAllowed = errors.New("claim cannot be disputed")
	ErrNoDisputeOpen     = errors.New("no dispute is being composed")
)

const maxDisputeLength = 2000

// AccusationWriter write side of the accusation API.
type AccusationWriter interface {
	CreateAccusation(ctx context.Context, userID, justificationID domain.ID, description string) (string, error)
}

// DisputeWorkflow composes the one-time accusation of a rejected claim.
// The local checks only spare a round trip; a server refusal is reported
// like any other failure.
type DisputeWorkflow struct {
	accusations AccusationWriter
	sessions    SessionSource
	model       Invalidator
	logger      *zap.Logger

	mu          sync.Mutex
	claim       *domain.Claim // open composition surface, nil when closed
	description string
	submitting  bool
	disputed    map[domain.ID]bool
}

func NewDisputeWorkflow(accusations AccusationWriter, sessions SessionSource, model Invalidator, logger *zap.Logger) *DisputeWorkflow {
	return &DisputeWorkflow{
		accusations: accusations,
		sessions:    sessions,
		model:       model,
		logger:      logger,
		disputed:    make(map[domain.ID]bool),
	}
}

// CanDispute rejected, not yet disputed here or on the server, and carrying
// the justification the accusation must reference.
func (w *DisputeWorkflow) CanDispute(claim domain.Claim) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canDisputeLocked(claim)
}

func (w *DisputeWorkflow) canDisputeLocked(claim domain.Claim) bool {
	return claim.CanDispute() && claim.Justification != nil && !w.disputed[claim.ID]
}

// Open starts composing a dispute for claim. Refused locally, without any
// request, when the claim is not disputable.
func (w *DisputeWorkflow) Open(claim domain.Claim) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.submitting {
		return ErrSubmissionInFlight
	}
	if !w.canDisputeLocked(claim) {
		w.logger.Debug("Dispute refused locally",
			zap.String("claim_id", claim.ID.String()),
			zap.String("status", claim.Status.String()),
			zap.Bool("has_accusation", claim.Accusation != nil),
		)
		return ErrDisputeNotAllowed
	}
	w.claim = &claim
	w.description = ""
	return nil
}

func (w *DisputeWorkflow) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.claim != nil
}

func (w *DisputeWorkflow) SetDescription(description string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.claim == nil {
		return ErrNoDisputeOpen
	}
	if w.submitting {
		return ErrSubmissionInFlight
	}
	w.description = description
	return nil
}

func (w *DisputeWorkflow) Description() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.description
}

// Close dismisses the composition surface.
func (w *DisputeWorkflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitting {
		return
	}
	w.claim = nil
	w.description = ""
}

// Submit sends the accusation. On success the archived list is refreshed and
// the surface closes; on failure it stays open with the description kept.
// Like claim submission, the request outlives ctx cancellation.
func (w *DisputeWorkflow) Submit(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.claim == nil {
		w.mu.Unlock()
		return "", ErrNoDisputeOpen
	}
	if w.submitting {
		w.mu.Unlock()
		return "", ErrSubmissionInFlight
	}
	claim := *w.claim
	description := strings.TrimSpace(w.description)

	if !w.canDisputeLocked(claim) {
		w.mu.Unlock()
		return "", ErrDisputeNotAllowed
	}
	if err := validation.Validate(description,
		validation.Required.Error("describe why the rejection is wrong"),
		validation.RuneLength(1, maxDisputeLength),
	); err != nil {
		w.mu.Unlock()
		return "", &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
	}
	w.submitting = true
	w.mu.Unlock()

	msg, err := w.send(context.WithoutCancel(ctx), claim, description)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false

	logger := w.logger.With(zap.String("claim_id", claim.ID.String()))
	if err != nil {
		logger.Warn("Dispute failed", zap.Error(err))
		return "", err
	}

	logger.Info("Dispute submitted")
	w.disputed[claim.ID] = true
	w.claim = nil
	w.description = ""
	if w.model != nil {
		w.model.Invalidate(ViewArchived)
	}
	return msg, nil
}

func (w *DisputeWorkflow) send(ctx context.Context, claim domain.Claim, description string) (string, error) {
	sess, err := w.sessions.Require(ctx)
	if err != nil {
		return "", &api.Error{Kind: api.AuthExpired, Message: api.MsgSessionExpired, Err: err}
	}
	return w.accusations.CreateAccusation(ctx, sess.UserID(), claim.Justification.ID, description)
}
