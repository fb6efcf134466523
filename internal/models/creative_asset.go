package models

import (
	"time"

	"gorm.io/datatypes"
)

type CreativeAsset struct {
	Platform     string         `gorm:"primaryKey;type:text;comment:广告平台标识"`
	AssetID      string         `gorm:"primaryKey;type:text;comment:创意资产ID"`
	AdID         *string        `gorm:"type:text;index;comment:关联广告ID"`
	AssetType    string         `gorm:"type:text;comment:资产类型"`
	URL          *string        `gorm:"type:text;comment:资源地址"`
	ThumbnailURL *string        `gorm:"type:text;comment:缩略图地址"`
	Title        *string        `gorm:"type:text;comment:创意标题"`
	Body         *string        `gorm:"type:text;comment:创意正文"`
	LastSeenAt   time.Time      `gorm:"type:timestamptz;not null;comment:最近同步时间"`
	RawJSON      datatypes.JSON `gorm:"type:jsonb;not null;comment:原始数据"`
}

func (CreativeAsset) TableName() string {
	return "creative_assets"
}
