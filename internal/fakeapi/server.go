// Package fakeapi is an in-process stand-in for the claims service. It
// implements every endpoint the client consumes, records each request it
// receives and lets tests force arbitrary responses per path.
package fakeapi

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/token"
)

// Request one request as received.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Multipart parses a multipart body.
func (r Request) Multipart() (*multipart.Form, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return multipart.NewReader(bytes.NewReader(r.Body), params["boundary"]).ReadForm(32 << 20)
}

type override struct {
	status int
	body   any
}

type account struct {
	password string
	profile  domain.Profile
}

// Server fake claims service
type Server struct {
	engine *gin.Engine
	http   *httptest.Server
	secret []byte

	// TokenTTL lifetime of issued tokens.
	TokenTTL time.Duration

	mu        sync.Mutex
	requests  []Request
	overrides map[string]override
	accounts  map[string]*account // by username
	claims    map[domain.ID][]*domain.Claim
	services  []domain.MedicalService
	regions   []domain.Region
	policies  []domain.Policy
	nextID    int
}

// New creates a server seeded with reference data and no accounts.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:    []byte("fakeapi-secret"),
		TokenTTL:  time.Hour,
		overrides: make(map[string]override),
		accounts:  make(map[string]*account),
		claims:    make(map[domain.ID][]*domain.Claim),
		nextID:    100,
		regions: []domain.Region{
			{ID: "1", Name: "Alger"},
			{ID: "2", Name: "Oran"},
			{ID: "3", Name: "Constantine"},
		},
		policies: []domain.Policy{
			{ID: "1", Name: "Basic", CoPay: decimal.NewFromInt(70)},
			{ID: "2", Name: "Premium", CoPay: decimal.NewFromInt(90)},
		},
		services: []domain.MedicalService{
			{ID: "1", Name: "General consultation", Clinician: &domain.Clinician{ID: "10", FullName: "Dr. Meriem Haddad"}},
			{ID: "2", Name: "Dental care", Clinician: &domain.Clinician{ID: "11", FullName: "Dr. Karim Saidi"}},
			{ID: "3", Name: "Radiology", Clinician: &domain.Clinician{ID: "12", FullName: "Dr. Nadia Belkacem"}},
		},
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.record, s.applyOverride)

	r.POST("/auth/client/login", s.login)
	r.POST("/auth/client/register", s.register)
	r.GET("/region/all", s.listRegions)
	r.GET("/policy/all", s.listPolicies)

	authed := r.Group("/", s.requireAuth)
	authed.GET("/medicalservice/all", s.listServices)
	authed.GET("/claim/client/statistics/:userId", s.ownUser, s.statistics)
	authed.GET("/claim/client/active/:userId", s.ownUser, s.activeClaims)
	authed.GET("/claim/client/archived/:userId", s.ownUser, s.archivedClaims)
	authed.POST("/claim/client/new/:userId", s.ownUser, s.createClaim)
	authed.POST("/accusation/create/:userId", s.ownUser, s.createAccusation)
	return r
}

// Handler for in-process use with httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on a loopback port and returns the base URL.
func (s *Server) Start() string {
	s.http = httptest.NewServer(s.engine)
	return s.http.URL
}

func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

// Override forces the response for method+path (the concrete path, e.g.
// "/claim/client/archived/1"). A nil body sends no body.
func (s *Server) Override(method, path string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[method+" "+path] = override{status: status, body: body}
}

func (s *Server) ClearOverrides() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = make(map[string]override)
}

// Requests received so far, oldest first.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count requests whose method and path match.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// AddAccount registers a client account directly and returns its id.
func (s *Server) AddAccount(username, password string, profile domain.Profile) domain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(username, password, profile)
}

func (s *Server) addAccountLocked(username, password string, profile domain.Profile) domain.ID {
	profile.ID = s.newIDLocked()
	profile.Username = username
	if profile.Policy == nil {
		p := s.policies[0]
		profile.Policy = &p
	}
	s.accounts[username] = &account{password: password, profile: profile}
	return profile.ID
}

// IssueToken signs a token for userID valid for ttl (negative ttl yields an
// already expired token).
func (s *Server) IssueToken(userID domain.ID, ttl time.Duration) string {
	payload := map[string]any{"id": userID.String(), "exp": time.Now().Add(ttl).Unix()}
	if n, err := strconv.Atoi(userID.String()); err == nil {
		payload["id"] = n
	}
	tok, err := token.Encode(payload, s.secret)
	if err != nil {
		panic(err)
	}
	return tok
}

// AddClaim stores claim for userID, assigning an id when missing.
func (s *Server) AddClaim(userID domain.ID, claim domain.Claim) domain.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if claim.ID.IsZero() {
		claim.ID = s.newIDLocked()
	}
	if claim.Justification != nil && claim.Justification.ID.IsZero() {
		claim.Justification.ID = s.newIDLocked()
	}
	s.claims[userID] = append(s.claims[userID], &claim)
	return claim.ID
}

// UpdateClaim applies fn to the stored claim. Returns false when unknown.
func (s *Server) UpdateClaim(claimID domain.ID, fn func(*domain.Claim)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.claims {
		for _, c := range list {
			if c.ID == claimID {
				fn(c)
				return true
			}
		}
	}
	return false
}

// Claims stored for userID, copied.
func (s *Server) Claims(userID domain.ID) []domain.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Claim, 0, len(s.claims[userID]))
	for _, c := range s.claims[userID] {
		out = append(out, *c)
	}
	return out
}

func (s *Server) newIDLocked() domain.ID {
	s.nextID++
	return domain.ID(strconv.Itoa(s.nextID))
}

// --- middleware ---

func (s *Server) record(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) applyOverride(c *gin.Context) {
	s.mu.Lock()
	o, ok := s.overrides[c.Request.Method+" "+c.Request.URL.Path]
	s.mu.Unlock()
	if !ok {
		c.Next()
		return
	}
	switch b := o.body.(type) {
	case nil:
		c.Status(o.status)
	case string:
		c.Data(o.status, "text/plain; charset=utf-8", []byte(b))
	default:
		c.JSON(o.status, b)
	}
	c.Abort()
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization header required"})
		return
	}

	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
		return
	}

	claims, err := token.Decode(tokenString)
	if err != nil || claims == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
		return
	}
	c.Set("userId", domain.ID(claims.ID))
	c.Next()
}

func (s *Server) ownUser(c *gin.Context) {
	if c.Param("userId") != c.MustGet("userId").(domain.ID).String() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Access denied"})
		return
	}
	c.Next()
}

// --- handlers ---

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid username or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": s.IssueToken(acc.profile.ID, s.TokenTTL),
		"user":  acc.profile,
	})
}

func (s *Server) register(c *gin.Context) {
	var reg domain.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if reg.Username == "" || reg.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "All fields are required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[reg.Username]; exists {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Username already exists"})
		return
	}

	profile := domain.Profile{
		FullName: reg.FullName,
		Phone:    reg.Phone,
		Address:  reg.Address,
		Job:      reg.Job,
	}
	for _, r := range s.regions {
		if r.ID == reg.Region {
			profile.Region = &r
		}
	}
	for _, p := range s.policies {
		if p.ID == reg.Policy {
			profile.Policy = &p
		}
	}
	s.addAccountLocked(reg.Username, reg.Password, profile)
	c.JSON(http.StatusCreated, gin.H{"message": "Account created successfully"})
}

func (s *Server) listRegions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.regions)
}

func (s *Server) listPolicies(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.policies)
}

func (s *Server) listServices(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.services)
}

func (s *Server) statistics(c *gin.Context) {
	userID := domain.ID(c.Param("userId"))
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.Statistics
	for _, claim := range s.claims[userID] {
		st.TotalClaims++
		st.TotalClaimAmount = st.TotalClaimAmount.Add(claim.ClaimAmount)
		switch claim.Status {
		case domain.StatusPending:
			st.Counts.Pending++
			st.NonValidatedReimbursement = st.NonValidatedReimbursement.Add(claim.EstimatedReimbursement())
		case domain.StatusApproved:
			st.Counts.Approved++
			st.NonValidatedReimbursement = st.NonValidatedReimbursement.Add(claim.EstimatedReimbursement())
		case domain.StatusRejected:
			st.Counts.Rejected++
		case domain.StatusPaid:
			st.Counts.Paid++
			st.ValidatedReimbursement = st.ValidatedReimbursement.Add(claim.ReimbursementDisplay())
		}
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) activeClaims(c *gin.Context) {
	s.listClaims(c, func(cl *domain.Claim) bool { return !cl.Status.Terminal() })
}

func (s *Server) archivedClaims(c *gin.Context) {
	s.listClaims(c, func(cl *domain.Claim) bool { return cl.Status.Terminal() })
}

func (s *Server) listClaims(c *gin.Context, keep func(*domain.Claim) bool) {
	userID := domain.ID(c.Param("userId"))
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Claim, 0)
	for _, claim := range s.claims[userID] {
		if keep(claim) {
			out = append(out, *claim)
		}
	}
	if len(out) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"statusCode": http.StatusNotFound, "message": "No claims found"}})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createClaim(c *gin.Context) {
	userID := domain.ID(c.Param("userId"))

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Expected multipart form data"})
		return
	}

	amount, err := decimal.NewFromString(c.PostForm("claim_amount"))
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid claim amount"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var service *domain.MedicalService
	for _, ms := range s.services {
		if ms.ID.String() == c.PostForm("medicalservice") {
			service = &ms
		}
	}
	if service == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid service type"})
		return
	}

	claim := &domain.Claim{
		ID:             s.newIDLocked(),
		MedicalService: service,
		ClaimAmount:    amount,
		Status:         domain.StatusPending,
		Date:           domain.Timestamp{Time: time.Now().UTC().Truncate(time.Second)},
		Client:         &domain.ClientAssociation{ID: userID},
	}
	for _, acc := range s.accounts {
		if acc.profile.ID == userID {
			claim.Client.Policy = acc.profile.Policy
		}
	}
	for _, fh := range form.File["files"] {
		claim.Attachments = append(claim.Attachments, domain.StoredFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			URL:      fmt.Sprintf("/uploads/%s/%s", claim.ID, fh.Filename),
		})
	}
	s.claims[userID] = append(s.claims[userID], claim)

	c.JSON(http.StatusCreated, gin.H{"message": "Claim submitted"})
}

func (s *Server) createAccusation(c *gin.Context) {
	userID := domain.ID(c.Param("userId"))
	var req struct {
		Justification domain.ID `json:"justification"`
		Description   string    `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Description is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, claim := range s.claims[userID] {
		if claim.Justification == nil || claim.Justification.ID != req.Justification {
			continue
		}
		if claim.Accusation != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "This claim has already been disputed"})
			return
		}
		claim.Accusation = &domain.Accusation{ID: s.newIDLocked(), Description: req.Description}
		c.JSON(http.StatusCreated, gin.H{"message": "Accusation submitted"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"message": "Justification not found"})
}
