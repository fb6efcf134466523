package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PerfLevelCampaign = "campaign"
	PerfLevelAd       = "ad"
)

// AdPerformance is one day of delivery metrics for a campaign or an ad.
// Platforms restate recent days retroactively, so rows are re-fetched with a
// lookback buffer and overwritten wholesale on conflict.
type AdPerformance struct {
	Platform        string          `gorm:"primaryKey;type:text;comment:广告平台标识"`
	Level           string          `gorm:"primaryKey;type:text;comment:统计层级"`
	EntityID        string          `gorm:"primaryKey;type:text;comment:统计对象ID"`
	StatDate        time.Time       `gorm:"primaryKey;type:date;comment:统计日期"`
	CampaignID      string          `gorm:"type:text;index;not null;comment:所属广告系列ID"`
	Impressions     int64           `gorm:"not null;default:0;comment:展示次数"`
	Clicks          int64           `gorm:"not null;default:0;comment:点击次数"`
	Spend           decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0;comment:花费"`
	Conversions     decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0;comment:转化次数"`
	ConversionValue decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0;comment:转化价值"`
	LastSeenAt      time.Time       `gorm:"type:timestamptz;not null;comment:最近同步时间"`
}

func (AdPerformance) TableName() string {
	return "ad_performance"
}
