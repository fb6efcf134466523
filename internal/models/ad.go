package models

import (
	"time"

	"gorm.io/datatypes"
)

type Ad struct {
	Platform          string         `gorm:"primaryKey;type:text;comment:广告平台标识"`
	AdID              string         `gorm:"primaryKey;type:text;comment:广告ID"`
	CampaignID        string         `gorm:"type:text;index;not null;comment:所属广告系列ID"`
	AdGroupID         *string        `gorm:"type:text;index;comment:所属广告组ID"`
	Name              string         `gorm:"type:text;comment:广告名称"`
	Status            string         `gorm:"type:text;comment:投放状态"`
	CreativeID        *string        `gorm:"type:text;comment:关联创意ID"`
	ExternalUpdatedAt *time.Time     `gorm:"type:timestamptz;index;comment:外部更新时间"`
	LastSeenAt        time.Time      `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	RawJSON           datatypes.JSON `gorm:"type:jsonb;not null;comment:原始数据"`
}

func (Ad) TableName() string {
	return "ads"
}
