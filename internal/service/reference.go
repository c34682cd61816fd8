package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/domain"
)

// ReferenceSource reference data endpoints.
type ReferenceSource interface {
	Regions(ctx context.Context) ([]domain.Region, error)
	Policies(ctx context.Context) ([]domain.Policy, error)
	MedicalServices(ctx context.Context) ([]domain.MedicalService, error)
}

// publicKey key of queries that do not depend on the user.
const publicKey = "public"

// ReferenceData regions and policies for registration, medical services for
// claim submission. Polled while a form that needs them is open.
type ReferenceData struct {
	regions  *Refresher[[]domain.Region]
	policies *Refresher[[]domain.Policy]
	services *Refresher[[]domain.MedicalService]
}

func NewReferenceData(src ReferenceSource, interval time.Duration, logger *zap.Logger) *ReferenceData {
	rd := &ReferenceData{
		regions: NewRefresher[[]domain.Region]("regions", interval,
			func(ctx context.Context, _ string) ([]domain.Region, error) {
				return src.Regions(ctx)
			}, nil, logger),
		policies: NewRefresher[[]domain.Policy]("policies", interval,
			func(ctx context.Context, _ string) ([]domain.Policy, error) {
				return src.Policies(ctx)
			}, nil, logger),
		// keyed by user: the endpoint needs a session
		services: NewRefresher[[]domain.MedicalService]("medical_services", interval,
			func(ctx context.Context, _ string) ([]domain.MedicalService, error) {
				return src.MedicalServices(ctx)
			}, nil, logger),
	}
	rd.regions.SetKey(publicKey)
	rd.policies.SetKey(publicKey)
	return rd
}

// SetUser enables the medical service list for userID.
func (r *ReferenceData) SetUser(userID domain.ID) {
	r.services.SetKey(userID.String())
}

func (r *ReferenceData) Regions(ctx context.Context) ([]domain.Region, error) {
	return r.regions.Get(ctx)
}

func (r *ReferenceData) Policies(ctx context.Context) ([]domain.Policy, error) {
	return r.policies.Get(ctx)
}

func (r *ReferenceData) MedicalServices(ctx context.Context) ([]domain.MedicalService, error) {
	return r.services.Get(ctx)
}

// FindMedicalService looks id up in the cached service list.
func (r *ReferenceData) FindMedicalService(ctx context.Context, id domain.ID) (domain.MedicalService, bool, error) {
	services, err := r.MedicalServices(ctx)
	if err != nil {
		return domain.MedicalService{}, false, err
	}
	for _, s := range services {
		if s.ID == id {
			return s, true, nil
		}
	}
	return domain.MedicalService{}, false, nil
}

// StartRegistration polls regions and policies until StopRegistration.
func (r *ReferenceData) StartRegistration(ctx context.Context) {
	r.regions.Start(ctx)
	r.policies.Start(ctx)
}

func (r *ReferenceData) StopRegistration() {
	r.regions.Stop()
	r.policies.Stop()
}

// StartSubmission polls medical services until StopSubmission.
func (r *ReferenceData) StartSubmission(ctx context.Context) {
	r.services.Start(ctx)
}

func (r *ReferenceData) StopSubmission() {
	r.services.Stop()
}
