package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/domain"
)

// Paths of the claims service.
const (
	PathLogin            = "/auth/client/login"
	PathRegister         = "/auth/client/register"
	PathRegions          = "/region/all"
	PathPolicies         = "/policy/all"
	PathMedicalServices  = "/medicalservice/all"
	PathStatistics       = "/claim/client/statistics/{userId}"
	PathActiveClaims     = "/claim/client/active/{userId}"
	PathArchivedClaims   = "/claim/client/archived/{userId}"
	PathCreateClaim      = "/claim/client/new/{userId}"
	PathCreateAccusation = "/accusation/create/{userId}"
)

// Multipart field names of the create-claim request.
const (
	FieldMedicalService = "medicalservice"
	FieldClaimAmount    = "claim_amount"
	FieldFiles          = "files"
)

func userParam(userID domain.ID) map[string]string {
	return map[string]string{"userId": userID.String()}
}

// LoginResult body of a successful login.
type LoginResult struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

type messageBody struct {
	Message string `json:"message"`
}

func confirmation(resp *resty.Response) string {
	var mb messageBody
	_ = json.Unmarshal(resp.Body(), &mb)
	return mb.Message
}

// Login exchanges credentials for a token and profile.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	resp, err := c.write(ctx, http.MethodPost, PathLogin, nil, false, func(r *resty.Request) {
		r.SetBody(map[string]string{"username": username, "password": password})
	})
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil || result.Token == "" {
		c.logger.Error("Login response without token", zap.Error(err))
		return nil, &Error{Kind: RemoteRejected, StatusCode: resp.StatusCode(), Message: MsgSomethingWrong, Err: err}
	}
	return &result, nil
}

// Register creates a client account. Returns the server confirmation.
func (c *Client) Register(ctx context.Context, reg domain.Registration) (string, error) {
	resp, err := c.write(ctx, http.MethodPost, PathRegister, nil, false, func(r *resty.Request) {
		r.SetBody(reg)
	})
	if err != nil {
		return "", err
	}
	return confirmation(resp), nil
}

func (c *Client) Regions(ctx context.Context) ([]domain.Region, error) {
	var regions []domain.Region
	if _, err := c.read(ctx, PathRegions, nil, false, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

func (c *Client) Policies(ctx context.Context) ([]domain.Policy, error) {
	var policies []domain.Policy
	if _, err := c.read(ctx, PathPolicies, nil, false, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (c *Client) MedicalServices(ctx context.Context) ([]domain.MedicalService, error) {
	var services []domain.MedicalService
	if _, err := c.read(ctx, PathMedicalServices, nil, true, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// Statistics zero-valued when the service has nothing for the user.
func (c *Client) Statistics(ctx context.Context, userID domain.ID) (domain.Statistics, error) {
	var stats domain.Statistics
	if _, err := c.read(ctx, PathStatistics, userParam(userID), true, &stats); err != nil {
		return domain.Statistics{}, err
	}
	return stats, nil
}

func (c *Client) ActiveClaims(ctx context.Context, userID domain.ID) ([]domain.Claim, error) {
	return c.claims(ctx, PathActiveClaims, userID)
}

func (c *Client) ArchivedClaims(ctx context.Context, userID domain.ID) ([]domain.Claim, error) {
	return c.claims(ctx, PathArchivedClaims, userID)
}

// claims decodes item by item so one claim with an unrecognized status is
// dropped (and logged) instead of failing the whole list.
func (c *Client) claims(ctx context.Context, path string, userID domain.ID) ([]domain.Claim, error) {
	var raw []json.RawMessage
	found, err := c.read(ctx, path, userParam(userID), true, &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return []domain.Claim{}, nil
	}

	claims := make([]domain.Claim, 0, len(raw))
	for _, item := range raw {
		var claim domain.Claim
		if err := json.Unmarshal(item, &claim); err != nil {
			if errors.Is(err, domain.ErrUnknownStatus) {
				c.logger.Warn("Skipping claim with unknown status",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			c.logger.Error("Failed to unmarshal claim", zap.String("path", path), zap.Error(err))
			return nil, &Error{Kind: RemoteRejected, StatusCode: http.StatusOK, Message: "unexpected response from server", Err: err}
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

// NewClaim multipart body of the create-claim request.
type NewClaim struct {
	MedicalService domain.ID
	Amount         decimal.Decimal
	Attachments    []domain.Attachment
}

// CreateClaim submits a claim with its attachments under the shared "files"
// field. Returns the server confirmation.
func (c *Client) CreateClaim(ctx context.Context, userID domain.ID, claim NewClaim) (string, error) {
	resp, err := c.write(ctx, http.MethodPost, PathCreateClaim, userParam(userID), true, func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{
			FieldMedicalService: claim.MedicalService.String(),
			FieldClaimAmount:    claim.Amount.StringFixed(2),
		})
		for _, a := range claim.Attachments {
			r.SetMultipartField(FieldFiles, a.Name, a.MimeType, bytes.NewReader(a.Content))
		}
	})
	if err != nil {
		return "", err
	}
	return confirmation(resp), nil
}

// CreateAccusation disputes the rejection identified by justificationID.
func (c *Client) CreateAccusation(ctx context.Context, userID, justificationID domain.ID, description string) (string, error) {
	resp, err := c.write(ctx, http.MethodPost, PathCreateAccusation, userParam(userID), true, func(r *resty.Request) {
		r.SetBody(map[string]string{
			"justification": justificationID.String(),
			"description":   description,
		})
	})
	if err != nil {
		return "", err
	}
	return confirmation(resp), nil
}
