package models

// Probe is keyed by name and channel count; the same probe model wired
// differently gets its own row.
type Probe struct {
	ProbeName     string `gorm:"primaryKey;type:varchar(64)"`
	ChannelCounts int    `gorm:"primaryKey;autoIncrement:false"`
	ProbeType     string `gorm:"type:varchar(64)"`
}

func (Probe) TableName() string {
	return "probe"
}

type ProbeShank struct {
	ProbeName     string `gorm:"primaryKey;type:varchar(64)"`
	ChannelCounts int    `gorm:"primaryKey;autoIncrement:false"`
	ShankID       int    `gorm:"primaryKey;autoIncrement:false"`
}

func (ProbeShank) TableName() string {
	return "probe_shank"
}

type ProbeChannel struct {
	ProbeName     string `gorm:"primaryKey;type:varchar(64)"`
	ChannelCounts int    `gorm:"primaryKey;autoIncrement:false"`
	ChannelID     int    `gorm:"primaryKey;autoIncrement:false"`
	ShankID       int    `gorm:"not null"`
}

func (ProbeChannel) TableName() string {
	return "probe_channel"
}
