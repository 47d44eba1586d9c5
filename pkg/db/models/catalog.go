package models

import "github.com/shopspring/decimal"

// Photo is the read-only catalog view the checkout needs.
type Photo struct {
	ID             string          `gorm:"column:id;primaryKey"`
	PhotographerID string          `gorm:"column:photographer_id;not null"`
	CampaignID     *string         `gorm:"column:campaign_id"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	DiscountOptOut bool            `gorm:"column:discount_opt_out;not null;default:false"`
}

func (Photo) TableName() string { return "photos" }

// Campaign links an event album to the organization running it.
type Campaign struct {
	ID             string  `gorm:"column:id;primaryKey"`
	OrganizationID *string `gorm:"column:organization_id"`
}

func (Campaign) TableName() string { return "campaigns" }

// Organization carries the admin percentage used when splitting revenue.
type Organization struct {
	ID              string          `gorm:"column:id;primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	AdminPercentage decimal.Decimal `gorm:"column:admin_percentage;type:numeric(5,2);not null;default:0"`
}

func (Organization) TableName() string { return "organizations" }
