package service

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/api"
	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/session"
	"github.com/moumen26/insurance-client-side/internal/token"
)

// AccountAPI unauthenticated account endpoints.
type AccountAPI interface {
	Login(ctx context.Context, username, password string) (*api.LoginResult, error)
	Register(ctx context.Context, reg domain.Registration) (string, error)
}

// AuthService login, logout and registration on top of the session store.
type AuthService struct {
	accounts AccountAPI
	sessions *session.Store
	logger   *zap.Logger
}

func NewAuthService(accounts AccountAPI, sessions *session.Store, logger *zap.Logger) *AuthService {
	return &AuthService{accounts: accounts, sessions: sessions, logger: logger}
}

// Login authenticates and starts a session. When the session could not be
// persisted the live session is still returned together with the error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*session.Session, error) {
	err := validation.Errors{
		"username": validation.Validate(username, validation.Required),
		"password": validation.Validate(password, validation.Required),
	}.Filter()
	if err != nil {
		return nil, &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
	}

	res, err := s.accounts.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Login(ctx, res.Token, res.User)
	if errors.Is(err, token.ErrMalformed) {
		s.logger.Error("Server issued an undecodable token", zap.Error(err))
		return nil, &api.Error{Kind: api.MalformedCredential, Message: api.MsgSomethingWrong, Err: err}
	}
	return sess, err
}

func (s *AuthService) Logout(ctx context.Context) {
	s.sessions.Logout(ctx)
}

// Register validates locally before calling the service.
func (s *AuthService) Register(ctx context.Context, reg domain.Registration) (string, error) {
	if err := reg.Validate(); err != nil {
		return "", &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
	}
	return s.accounts.Register(ctx, reg)
}
