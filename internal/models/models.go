package models

import (
	"time"
)

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null;index:,length:256"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
}

// JobEvent is one finished render job. Result bytes are not stored.
type JobEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	JobID       string    `gorm:"type:varchar(12);not null;index"`
	Type        string    `gorm:"type:varchar(20);not null;index"`
	Status      string    `gorm:"type:varchar(10);not null;index"`
	ClientIP    string    `gorm:"type:varchar(45);not null"`
	CreatedAt   time.Time `gorm:"index;not null"`
	FinishedAt  time.Time `gorm:"index;not null"`
	Duration    time.Duration
	Filename    string `gorm:"type:text"`
	MediaType   string `gorm:"type:varchar(128)"`
	ResultBytes int    `gorm:"not null;default:0"`
	Error       string `gorm:"type:text"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func (JobEvent) TableName() string {
	return "job_events"
}
