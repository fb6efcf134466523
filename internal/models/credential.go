package models

import "time"

const (
	PlatformMicrosoft = "microsoft"
	PlatformMeta      = "meta"
)

const (
	TokenStatusValid   = "valid"
	TokenStatusInvalid = "invalid"
)

// Platforms lists every platform a credential can exist for, in a stable order.
func Platforms() []string {
	return []string{PlatformMicrosoft, PlatformMeta}
}

type Credential struct {
	Platform           string     `gorm:"primaryKey;type:text;comment:广告平台标识"`
	AccessToken        string     `gorm:"type:text;not null;comment:访问令牌"`
	RefreshToken       *string    `gorm:"type:text;comment:刷新令牌"`
	ExpiresAt          time.Time  `gorm:"type:timestamptz;not null;comment:令牌过期时间"`
	TokenType          string     `gorm:"type:text;not null;default:Bearer;comment:令牌类型"`
	Scope              *string    `gorm:"type:text;comment:授权范围"`
	Status             string     `gorm:"type:text;not null;default:valid;comment:凭证状态"`
	LastRefreshAttempt *time.Time `gorm:"type:timestamptz;comment:最近刷新尝试时间"`
	RefreshError       *string    `gorm:"type:text;comment:最近刷新错误"`
	UpdatedAt          time.Time  `gorm:"type:timestamptz;not null;comment:更新时间"`
}

func (Credential) TableName() string {
	return "credentials"
}
