package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Campaign struct {
	Platform          string           `gorm:"primaryKey;type:text;comment:广告平台标识"`
	CampaignID        string           `gorm:"primaryKey;type:text;comment:广告系列ID"`
	Name              string           `gorm:"type:text;not null;comment:广告系列名称"`
	Status            string           `gorm:"type:text;comment:投放状态"`
	Channel           *string          `gorm:"type:text;comment:投放渠道"`
	DailyBudget       *decimal.Decimal `gorm:"type:numeric(20,4);comment:日预算"`
	ExternalUpdatedAt *time.Time       `gorm:"type:timestamptz;index;comment:外部更新时间"`
	LastSeenAt        time.Time        `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	RawJSON           datatypes.JSON   `gorm:"type:jsonb;not null;comment:原始数据"`
}

func (Campaign) TableName() string {
	return "ad_campaigns"
}
