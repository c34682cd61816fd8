package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/api"
	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/session"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrNotComposing       = errors.New("no claim is being composed")
)

// SessionSource the live session, or an error when there is none.
type SessionSource interface {
	Require(ctx context.Context) (*session.Session, error)
}

// ClaimWriter write side of the claims API.
type ClaimWriter interface {
	CreateClaim(ctx context.Context, userID domain.ID, claim api.NewClaim) (string, error)
}

// SubmissionState of one submission attempt.
type SubmissionState int

const (
	StateIdle SubmissionState = iota
	StateComposing
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s SubmissionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Transition is reported to observers on every state change.
type Transition struct {
	From      SubmissionState
	To        SubmissionState
	AttemptID string
	Message   string // confirmation on Succeeded, error on Failed
}

// ClaimDraft form input of a claim being composed.
type ClaimDraft struct {
	MedicalService domain.ID
	Amount         decimal.Decimal
	Attachments    []domain.Attachment
}

var positiveAmount = validation.By(func(v interface{}) error {
	if d, ok := v.(decimal.Decimal); ok && !d.IsPositive() {
		return errors.New("must be a positive amount")
	}
	return nil
})

func (d ClaimDraft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.MedicalService, validation.Required.Error("select a medical service")),
		validation.Field(&d.Amount, positiveAmount),
		validation.Field(&d.Attachments, validation.Each(validation.By(func(v interface{}) error {
			a := v.(domain.Attachment)
			if strings.TrimSpace(a.Name) == "" {
				return errors.New("attachment name is required")
			}
			if a.MimeType == "" {
				return errors.New("attachment type is required")
			}
			return nil
		}))),
	)
}

func (d ClaimDraft) clone() ClaimDraft {
	d.Attachments = append([]domain.Attachment(nil), d.Attachments...)
	return d
}

// SubmissionResult outcome of a successful Submit.
type SubmissionResult struct {
	AttemptID string
	Message   string
}

// SubmissionWorkflow Idle -> Composing -> Submitting -> {Succeeded, Failed}.
// Succeeded resets to Idle; Failed returns to Composing with the draft
// intact. Only one submission may be outstanding at a time.
type SubmissionWorkflow struct {
	claims   ClaimWriter
	sessions SessionSource
	model    Invalidator
	logger   *zap.Logger

	mu        sync.Mutex
	state     SubmissionState
	draft     ClaimDraft
	lastErr   error
	observers []func(Transition)
}

func NewSubmissionWorkflow(claims ClaimWriter, sessions SessionSource, model Invalidator, logger *zap.Logger) *SubmissionWorkflow {
	return &SubmissionWorkflow{
		claims:   claims,
		sessions: sessions,
		model:    model,
		logger:   logger,
	}
}

// OnTransition registers an observer. Observers run synchronously and must
// not call back into the workflow.
func (w *SubmissionWorkflow) OnTransition(fn func(Transition)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

func (w *SubmissionWorkflow) State() SubmissionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Draft copy of the form input.
func (w *SubmissionWorkflow) Draft() ClaimDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.clone()
}

// LastError of the most recent failed attempt, nil after a success.
func (w *SubmissionWorkflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// setState must be called with mu held.
func (w *SubmissionWorkflow) setState(to SubmissionState, attemptID, msg string) {
	t := Transition{From: w.state, To: to, AttemptID: attemptID, Message: msg}
	w.state = to
	for _, fn := range w.observers {
		fn(t)
	}
}

// Begin opens an empty form. A draft already being composed is kept.
func (w *SubmissionWorkflow) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateSubmitting:
		return ErrSubmissionInFlight
	case StateComposing:
		return nil
	}
	w.draft = ClaimDraft{}
	w.lastErr = nil
	w.setState(StateComposing, "", "")
	return nil
}

// Cancel discards the draft.
func (w *SubmissionWorkflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSubmitting {
		return ErrSubmissionInFlight
	}
	w.draft = ClaimDraft{}
	if w.state != StateIdle {
		w.setState(StateIdle, "", "")
	}
	return nil
}

func (w *SubmissionWorkflow) edit(fn func(*ClaimDraft) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateSubmitting:
		return ErrSubmissionInFlight
	case StateComposing:
		return fn(&w.draft)
	default:
		return ErrNotComposing
	}
}

func (w *SubmissionWorkflow) SelectService(id domain.ID) error {
	return w.edit(func(d *ClaimDraft) error {
		d.MedicalService = id
		return nil
	})
}

func (w *SubmissionWorkflow) SetAmount(amount decimal.Decimal) error {
	return w.edit(func(d *ClaimDraft) error {
		d.Amount = amount
		return nil
	})
}

// SetAmountText parses user input such as "150" or "150.00".
func (w *SubmissionWorkflow) SetAmountText(s string) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return &api.Error{Kind: api.Invalid, Message: fmt.Sprintf("%q is not a valid amount", s), Err: err}
	}
	return w.SetAmount(amount)
}

func (w *SubmissionWorkflow) AddAttachment(a domain.Attachment) error {
	return w.edit(func(d *ClaimDraft) error {
		d.Attachments = append(d.Attachments, a)
		return nil
	})
}

// RemoveAttachment removes the attachment at index.
func (w *SubmissionWorkflow) RemoveAttachment(index int) error {
	return w.edit(func(d *ClaimDraft) error {
		if index < 0 || index >= len(d.Attachments) {
			return fmt.Errorf("no attachment at index %d", index)
		}
		d.Attachments = append(d.Attachments[:index:index], d.Attachments[index+1:]...)
		return nil
	})
}

// Submit sends the draft. The user id comes from the session token, never
// from the form. The request is not cancelled with ctx: once sent it runs to
// completion and its outcome is applied even if the caller went away.
func (w *SubmissionWorkflow) Submit(ctx context.Context) (*SubmissionResult, error) {
	w.mu.Lock()
	switch w.state {
	case StateSubmitting:
		w.mu.Unlock()
		return nil, ErrSubmissionInFlight
	case StateComposing:
	default:
		w.mu.Unlock()
		return nil, ErrNotComposing
	}

	draft := w.draft.clone()
	if err := draft.Validate(); err != nil {
		w.mu.Unlock()
		return nil, &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
	}

	attemptID := uuid.NewString()
	w.setState(StateSubmitting, attemptID, "")
	w.mu.Unlock()

	logger := w.logger.With(zap.String("attempt_id", attemptID))
	msg, err := w.send(context.WithoutCancel(ctx), draft)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.lastErr = err
		logger.Warn("Claim submission failed", zap.Error(err))
		w.setState(StateFailed, attemptID, api.MessageOf(err))
		w.setState(StateComposing, attemptID, "")
		return nil, err
	}

	logger.Info("Claim submitted",
		zap.String("medical_service", draft.MedicalService.String()),
		zap.String("amount", draft.Amount.StringFixed(2)),
		zap.Int("attachments", len(draft.Attachments)),
	)
	w.lastErr = nil
	w.draft = ClaimDraft{}
	w.setState(StateSucceeded, attemptID, msg)
	if w.model != nil {
		w.model.Invalidate(ViewActive, ViewArchived, ViewStatistics)
	}
	w.setState(StateIdle, attemptID, "")
	return &SubmissionResult{AttemptID: attemptID, Message: msg}, nil
}

func (w *SubmissionWorkflow) send(ctx context.Context, draft ClaimDraft) (string, error) {
	sess, err := w.sessions.Require(ctx)
	if err != nil {
		return "", &api.Error{Kind: api.AuthExpired, Message: api.MsgSessionExpired, Err: err}
	}
	return w.claims.CreateClaim(ctx, sess.UserID(), api.NewClaim{
		MedicalService: draft.MedicalService,
		Amount:         draft.Amount,
		Attachments:    draft.Attachments,
	})
}
