package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SyncTypeIncremental = "incremental"
	SyncTypeFull        = "full"
	SyncTypeBackfill    = "backfill"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// SyncRun is the audit row for one (platform, entity) sync attempt. The
// latest completed row per pair doubles as the incremental watermark:
// WatermarkTS carries the max modified time seen during the run and
// NextPageToken the pagination cursor to resume an interrupted backfill.
type SyncRun struct {
	ID               string         `gorm:"primaryKey;type:uuid;comment:同步运行ID"`
	Platform         string         `gorm:"type:text;index:idx_sync_runs_pair;not null;comment:广告平台标识"`
	EntityType       string         `gorm:"type:text;index:idx_sync_runs_pair;not null;comment:同步实体类型"`
	SyncType         string         `gorm:"type:text;not null;comment:同步模式"`
	Status           string         `gorm:"type:text;index;not null;comment:运行状态"`
	StartTime        time.Time      `gorm:"type:timestamptz;index;not null;comment:开始时间"`
	EndTime          *time.Time     `gorm:"type:timestamptz;comment:结束时间"`
	RecordsProcessed int            `gorm:"not null;default:0;comment:处理记录数"`
	RecordsInserted  int            `gorm:"not null;default:0;comment:写入记录数"`
	RecordsUpdated   int            `gorm:"not null;default:0;comment:更新记录数"`
	RecordsFailed    int            `gorm:"not null;default:0;comment:失败记录数"`
	ErrorMessage     *string        `gorm:"type:text;comment:错误信息"`
	WatermarkTS      *time.Time     `gorm:"type:timestamptz;comment:数据更新时间水位"`
	NextPageToken    *string        `gorm:"type:text;comment:分页游标"`
	Stats            datatypes.JSON `gorm:"type:jsonb;comment:子实体统计JSON"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
