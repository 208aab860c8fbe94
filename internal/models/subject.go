package models

import "time"

type Subject struct {
	SubjectID          string     `gorm:"primaryKey;type:varchar(64)"`
	Species            string     `gorm:"type:varchar(64);not null"`
	AnimalSource       string     `gorm:"type:varchar(64);not null"`
	Sex                string     `gorm:"type:varchar(8);not null"`
	DateOfBirth        *time.Time `gorm:"type:date"`
	SubjectDescription string     `gorm:"type:varchar(1024)"`
}

func (Subject) TableName() string {
	return "subject"
}

type SubjectAllele struct {
	SubjectID string `gorm:"primaryKey;type:varchar(64)"`
	Allele    string `gorm:"primaryKey;type:varchar(128)"`
}

func (SubjectAllele) TableName() string {
	return "subject_allele"
}
