package models

import "fmt"

type BrainLocation struct {
	BrainRegion    string `gorm:"primaryKey;type:varchar(32)"`
	BrainSubregion string `gorm:"primaryKey;type:varchar(32)"`
	CorticalLayer  string `gorm:"primaryKey;type:varchar(8)"`
	Hemisphere     string `gorm:"primaryKey;type:varchar(16)"`
}

func (BrainLocation) TableName() string {
	return "brain_location"
}

// Describe renders the location as "key: value" pairs joined by "; ".
func (b BrainLocation) Describe() string {
	return fmt.Sprintf("brain_region: %s; brain_subregion: %s; cortical_layer: %s; hemisphere: %s",
		b.BrainRegion, b.BrainSubregion, b.CorticalLayer, b.Hemisphere)
}
