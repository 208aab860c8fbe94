package models

import "time"

// IngestedFile records which archive produced which sessions. It is
// informational; re-ingesting a listed file is still allowed.
type IngestedFile struct {
	FileName   string    `gorm:"primaryKey;type:varchar(255)"`
	Sessions   int       `gorm:"not null"`
	IngestedAt time.Time `gorm:"not null"`
}

func (IngestedFile) TableName() string {
	return "ingested_file"
}
