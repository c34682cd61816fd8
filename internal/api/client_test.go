package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/fakeapi"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

type noTokens struct{}

func (noTokens) Token(context.Context) (string, error) { return "", errors.New("not logged in") }

type fixture struct {
	fake   *fakeapi.Server
	client *Client
	userID domain.ID
}

func setup(t *testing.T) *fixture {
	t.Helper()
	fake := fakeapi.New()
	url := fake.Start()
	t.Cleanup(fake.Close)

	userID := fake.AddAccount("amina", "password123", domain.Profile{FullName: "Amina Benali"})
	tok := fake.IssueToken(userID, time.Hour)

	return &fixture{
		fake:   fake,
		client: NewClient(url, 5*time.Second, staticTokens(tok), zap.NewNop()),
		userID: userID,
	}
}

func archivedPath(id domain.ID) string { return "/claim/client/archived/" + id.String() }

func TestRead_NotFoundIsEmpty(t *testing.T) {
	f := setup(t)

	claims, err := f.client.ArchivedClaims(context.Background(), f.userID)
	require.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Empty(t, claims)
}

func TestRead_UnauthorizedIsEmpty(t *testing.T) {
	f := setup(t)
	expired := NewClient(f.client.httpClient.BaseURL, time.Second,
		staticTokens(f.fake.IssueToken(f.userID, -time.Hour)), zap.NewNop())

	claims, err := expired.ActiveClaims(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Empty(t, claims)

	stats, err := expired.Statistics(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, domain.Statistics{}, stats)
}

func TestRead_EmbeddedNotFoundIsEmpty(t *testing.T) {
	f := setup(t)
	f.fake.Override(http.MethodGet, archivedPath(f.userID), http.StatusInternalServerError,
		map[string]any{"error": map[string]any{"statusCode": 404, "message": "no rows"}})

	claims, err := f.client.ArchivedClaims(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestRead_OtherFailuresSurface(t *testing.T) {
	f := setup(t)

	f.fake.Override(http.MethodGet, archivedPath(f.userID), http.StatusInternalServerError,
		map[string]any{"message": "database unavailable"})
	_, err := f.client.ArchivedClaims(context.Background(), f.userID)
	require.Error(t, err)
	assert.Equal(t, RemoteRejected, KindOf(err))
	assert.Equal(t, "database unavailable", MessageOf(err))

	f.fake.Override(http.MethodGet, archivedPath(f.userID), http.StatusBadGateway, nil)
	_, err = f.client.ArchivedClaims(context.Background(), f.userID)
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, MsgNetworkError, apiErr.Message)
}

func TestRead_SkipsUnknownStatus(t *testing.T) {
	f := setup(t)
	f.fake.Override(http.MethodGet, archivedPath(f.userID), http.StatusOK, []map[string]any{
		{"id": 1, "claim_amount": "100", "status": "paid", "date": "2024-02-01T10:00:00Z", "reimbursement": "70"},
		{"id": 2, "claim_amount": "50", "status": "frozen", "date": "2024-02-02T10:00:00Z"},
		{"id": 4, "claim_amount": "20", "date": "2024-02-02T11:00:00Z"},
		{"id": 5, "claim_amount": "30", "status": nil, "date": "2024-02-02T12:00:00Z"},
		{"id": 3, "claim_amount": "80.5", "status": "Rejected", "date": "2024-02-03T10:00:00Z",
			"justification": map[string]any{"id": 9, "description": "Missing invoice"}},
	})

	claims, err := f.client.ArchivedClaims(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, domain.ID("1"), claims[0].ID)
	assert.Equal(t, domain.StatusRejected, claims[1].Status)
	assert.Equal(t, domain.ID("9"), claims[1].Justification.ID)
}

func TestRead_MalformedBody(t *testing.T) {
	f := setup(t)
	f.fake.Override(http.MethodGet, archivedPath(f.userID), http.StatusOK, "<html>oops</html>")

	_, err := f.client.ArchivedClaims(context.Background(), f.userID)
	require.Error(t, err)
	assert.Equal(t, RemoteRejected, KindOf(err))
}

func TestAuthenticatedCall_WithoutSessionSendsNothing(t *testing.T) {
	f := setup(t)
	anon := NewClient(f.client.httpClient.BaseURL, time.Second, noTokens{}, zap.NewNop())

	_, err := anon.ArchivedClaims(context.Background(), f.userID)
	assert.Equal(t, AuthExpired, KindOf(err))
	assert.True(t, IsAuth(err))

	_, err = anon.CreateAccusation(context.Background(), f.userID, "1", "text")
	assert.Equal(t, AuthExpired, KindOf(err))

	assert.Empty(t, f.fake.Requests())
}

func TestReferenceData(t *testing.T) {
	f := setup(t)
	anon := NewClient(f.client.httpClient.BaseURL, time.Second, nil, zap.NewNop())

	regions, err := anon.Regions(context.Background())
	require.NoError(t, err)
	assert.Len(t, regions, 3)

	policies, err := anon.Policies(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, policies)
	assert.True(t, policies[0].CoPay.Equal(decimal.NewFromInt(70)))

	services, err := f.client.MedicalServices(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 3)
	assert.Equal(t, "Dr. Meriem Haddad", services[0].Clinician.FullName)

	for _, r := range f.fake.Requests() {
		if r.Path == PathMedicalServices {
			assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		} else {
			assert.Empty(t, r.Header.Get("Authorization"))
		}
	}
}

func TestCreateClaim_Multipart(t *testing.T) {
	f := setup(t)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

	msg, err := f.client.CreateClaim(context.Background(), f.userID, NewClaim{
		MedicalService: "2",
		Amount:         decimal.RequireFromString("150"),
		Attachments: []domain.Attachment{
			domain.NewAttachment("invoice.pdf", "", pdf),
			domain.NewAttachment("prescription.txt", "text/plain", []byte("take twice daily")),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Claim submitted", msg)

	reqs := f.fake.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "/claim/client/new/"+f.userID.String(), req.Path)
	assert.Contains(t, req.Header.Get("Authorization"), "Bearer ")
	_, err = uuid.Parse(req.Header.Get(HeaderRequestID))
	assert.NoError(t, err)

	form, err := req.Multipart()
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, form.Value[FieldMedicalService])
	assert.Equal(t, []string{"150.00"}, form.Value[FieldClaimAmount])
	require.Len(t, form.File[FieldFiles], 2)
	assert.Equal(t, "invoice.pdf", form.File[FieldFiles][0].Filename)
	assert.Equal(t, "application/pdf", form.File[FieldFiles][0].Header.Get("Content-Type"))

	fh, err := form.File[FieldFiles][0].Open()
	require.NoError(t, err)
	defer fh.Close()
	content, err := io.ReadAll(fh)
	require.NoError(t, err)
	assert.Equal(t, pdf, content)

	stored := f.fake.Claims(f.userID)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.StatusPending, stored[0].Status)
	assert.Len(t, stored[0].Attachments, 2)
}

func TestCreateClaim_ServerMessageSurfaces(t *testing.T) {
	f := setup(t)

	_, err := f.client.CreateClaim(context.Background(), f.userID, NewClaim{
		MedicalService: "999",
		Amount:         decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.Equal(t, RemoteRejected, KindOf(err))
	assert.Equal(t, "Invalid service type", MessageOf(err))
}

func TestWrite_NonJSONFailureUsesFallback(t *testing.T) {
	f := setup(t)
	f.fake.Override(http.MethodPost, "/accusation/create/"+f.userID.String(), http.StatusInternalServerError, "boom")

	_, err := f.client.CreateAccusation(context.Background(), f.userID, "1", "text")
	require.Error(t, err)
	assert.Equal(t, RemoteRejected, KindOf(err))
	assert.Equal(t, MsgSomethingWrong, MessageOf(err))
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, staticTokens("t"), zap.NewNop())

	_, err := c.ArchivedClaims(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, NetworkUnavailable, KindOf(err))
	assert.Equal(t, MsgNetworkError, MessageOf(err))

	_, err = c.CreateAccusation(context.Background(), "1", "2", "text")
	require.Error(t, err)
	assert.Equal(t, NetworkUnavailable, KindOf(err))
	assert.Equal(t, MsgSomethingWrong, MessageOf(err))
}

func TestTimeoutIsNetworkUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond, staticTokens("t"), zap.NewNop())
	_, err := c.Statistics(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, NetworkUnavailable, KindOf(err))
}

func TestReadCancelled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.ArchivedClaims(ctx, f.userID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogin(t *testing.T) {
	f := setup(t)

	res, err := f.client.Login(context.Background(), "amina", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Amina Benali", res.User.FullName)
	assert.Equal(t, f.userID, res.User.ID)

	_, err = f.client.Login(context.Background(), "amina", "wrong")
	require.Error(t, err)
	assert.Equal(t, RemoteRejected, KindOf(err))
	assert.Equal(t, "Invalid username or password", MessageOf(err))
}

func TestRegister_SendsBooleanMarried(t *testing.T) {
	f := setup(t)

	msg, err := f.client.Register(context.Background(), domain.Registration{
		Username: "yacine",
		Password: "s3cret-pass",
		Phone:    "0555123456",
		FullName: "Yacine Khelifi",
		Region:   "2",
		Age:      34,
		Address:  "12 rue Didouche",
		Job:      "Engineer",
		Married:  true,
		Policy:   "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Account created successfully", msg)

	reqs := f.fake.Requests()
	require.Len(t, reqs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, true, body["married"])
	assert.Equal(t, float64(34), body["age"])
	assert.Equal(t, "Yacine Khelifi", body["fullName"])

	_, err = f.client.Register(context.Background(), domain.Registration{Username: "yacine", Password: "x"})
	assert.Equal(t, "Username already exists", MessageOf(err))
}

func TestCreateAccusation(t *testing.T) {
	f := setup(t)
	f.fake.AddClaim(f.userID, domain.Claim{
		ClaimAmount:   decimal.NewFromInt(200),
		Status:        domain.StatusRejected,
		Justification: &domain.Justification{ID: "77", Description: "Invoice unreadable"},
	})

	msg, err := f.client.CreateAccusation(context.Background(), f.userID, "77", "Documents were in fact attached")
	require.NoError(t, err)
	assert.Equal(t, "Accusation submitted", msg)

	reqs := f.fake.Requests()
	var body map[string]string
	require.NoError(t, json.Unmarshal(reqs[len(reqs)-1].Body, &body))
	assert.Equal(t, map[string]string{"justification": "77", "description": "Documents were in fact attached"}, body)

	_, err = f.client.CreateAccusation(context.Background(), f.userID, "77", "again")
	assert.Equal(t, RemoteRejected, KindOf(err))
	assert.Equal(t, "This claim has already been disputed", MessageOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	wrapped := errors.Join(errors.New("ctx"), &Error{Kind: Invalid, Message: "amount required"})
	assert.Equal(t, Invalid, KindOf(wrapped))
	assert.Equal(t, "amount required", MessageOf(wrapped))
	assert.Equal(t, MsgSomethingWrong, MessageOf(errors.New("plain")))
	assert.Equal(t, "remote_rejected", RemoteRejected.String())
}
