// Package catalog exposes the read-only photo and organization data the
// checkout needs. Catalog CRUD lives elsewhere.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/db/models"
)

// OrganizationSplit is the admin percentage configured for an organization.
type OrganizationSplit struct {
	OrganizationID  string
	AdminPercentage decimal.Decimal
}

// Repository reads catalog rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LookupPhotos(ctx context.Context, ids []string) (map[string]models.Photo, error)
	OrganizationSplit(ctx context.Context, campaignID string) (*OrganizationSplit, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LookupPhotos returns the photos found, keyed by id. Missing ids are absent from the map.
func (r *repository) LookupPhotos(ctx context.Context, ids []string) (map[string]models.Photo, error) {
	out := make(map[string]models.Photo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var photos []models.Photo
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&photos).Error; err != nil {
		return nil, err
	}
	for _, photo := range photos {
		out[photo.ID] = photo
	}
	return out, nil
}

// OrganizationSplit returns nil when the campaign is not run by an organization.
func (r *repository) OrganizationSplit(ctx context.Context, campaignID string) (*OrganizationSplit, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, nil
	}

	var campaign models.Campaign
	if err := r.db.WithContext(ctx).
		Where("id = ?", campaignID).
		First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if campaign.OrganizationID == nil || *campaign.OrganizationID == "" {
		return nil, nil
	}

	var org models.Organization
	if err := r.db.WithContext(ctx).
		Where("id = ?", *campaign.OrganizationID).
		First(&org).Error; err != nil {
		return nil, err
	}
	return &OrganizationSplit{
		OrganizationID:  org.ID,
		AdminPercentage: org.AdminPercentage,
	}, nil
}
