package service

import (
	"context"
	"errors"
	"strings"

	"order-reconciler/internal/backendapi"
	"order-reconciler/internal/models"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// DefaultWalkInCustomerID is the placeholder customer that owns unresolved orders
const DefaultWalkInCustomerID = 13

// CustomerLookup finds a registered customer by phone
type CustomerLookup interface {
	LookupCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
}

// CustomerResolver maps a phone number to a downstream customer identity
type CustomerResolver struct {
	lookup   CustomerLookup
	walkInID int64
	logger   *zap.Logger
}

// NewCustomerResolver creates a resolver; walkInID <= 0 uses DefaultWalkInCustomerID
func NewCustomerResolver(lookup CustomerLookup, walkInID int64) *CustomerResolver {
	if walkInID <= 0 {
		walkInID = DefaultWalkInCustomerID
	}
	return &CustomerResolver{
		lookup:   lookup,
		walkInID: walkInID,
		logger:   util.GetLogger(),
	}
}

// Resolve performs a single lookup. Every failure is reported as not found.
func (r *CustomerResolver) Resolve(ctx context.Context, phone string) (models.Customer, bool) {
	ctx, span := util.StartSpan(ctx, "CustomerResolver.Resolve")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return models.Customer{}, false
	}

	customer, err := r.lookup.LookupCustomerByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, backendapi.ErrNotFound) {
			r.logger.Info("Customer not registered", zap.String("phone", phone))
		} else {
			r.logger.Warn("Customer lookup failed, using walk-in identity",
				zap.String("phone", phone),
				zap.Error(err))
		}
		util.FallbacksTotal.WithLabelValues("customer").Inc()
		return models.Customer{}, false
	}
	if customer == nil || customer.ID == 0 {
		util.FallbacksTotal.WithLabelValues("customer").Inc()
		return models.Customer{}, false
	}

	if customer.Phone == "" {
		customer.Phone = phone
	}
	return *customer, true
}

// WalkIn builds the placeholder identity used when Resolve finds nothing
func (r *CustomerResolver) WalkIn(name, phone string) models.Customer {
	return models.Customer{
		ID:      r.walkInID,
		Name:    name,
		Surname: models.WalkInSurname,
		Phone:   phone,
	}
}
