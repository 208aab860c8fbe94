package models

import "github.com/shopspring/decimal"

type ProbeInsertion struct {
	SubjectID      string          `gorm:"primaryKey;type:varchar(64)"`
	SessionID      int             `gorm:"primaryKey;autoIncrement:false"`
	ProbeName      string          `gorm:"primaryKey;type:varchar(64)"`
	ChannelCounts  int             `gorm:"not null"`
	BrainRegion    string          `gorm:"type:varchar(32);not null"`
	BrainSubregion string          `gorm:"type:varchar(32);not null"`
	CorticalLayer  string          `gorm:"type:varchar(8);not null"`
	Hemisphere     string          `gorm:"type:varchar(16);not null"`
	InsertionDepth decimal.Decimal `gorm:"type:decimal(6,2);not null;comment:(um)"`
}

func (ProbeInsertion) TableName() string {
	return "probe_insertion"
}

func (p ProbeInsertion) Location() BrainLocation {
	return BrainLocation{
		BrainRegion:    p.BrainRegion,
		BrainSubregion: p.BrainSubregion,
		CorticalLayer:  p.CorticalLayer,
		Hemisphere:     p.Hemisphere,
	}
}

func (p ProbeInsertion) Probe() Probe {
	return Probe{ProbeName: p.ProbeName, ChannelCounts: p.ChannelCounts}
}
