package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

// ReferenceRepository covers lookup tables shared across sessions.
type ReferenceRepository interface {
	InsertSubject(ctx context.Context, item *models.Subject) error
	GetSubject(ctx context.Context, subjectID string) (*models.Subject, error)
	ListSubjectAlleles(ctx context.Context, subjectID string) ([]models.SubjectAllele, error)
	SeedExperimentalEvents(ctx context.Context, items []models.ExperimentalEvent) error
	ListExperimentalEvents(ctx context.Context, names []string) ([]models.ExperimentalEvent, error)
	// CreateProbeIfAbsent inserts the probe with its shanks and channels in
	// one transaction; it reports false when the probe already existed.
	CreateProbeIfAbsent(ctx context.Context, probe *models.Probe, shanks []models.ProbeShank, channels []models.ProbeChannel) (bool, error)
	ListProbeChannels(ctx context.Context, probe models.Probe) ([]models.ProbeChannel, error)
	InsertBrainLocation(ctx context.Context, item *models.BrainLocation) error
	UpsertSegmentationSettings(ctx context.Context, items []models.TrialSegmentationSetting) error
	ListSegmentationSettings(ctx context.Context, ids []uint) ([]models.TrialSegmentationSetting, error)
}

// AcquisitionRepository covers sessions, trials and behavior.
type AcquisitionRepository interface {
	// CreateSessionIfAbsent inserts the session and its experimenters in one
	// transaction; it reports false when the session already existed.
	CreateSessionIfAbsent(ctx context.Context, session *models.Session, experimenters []string) (bool, error)
	GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	ListSessions(ctx context.Context, params ListSessionsParams) ([]models.Session, error)
	CountSessions(ctx context.Context, params ListSessionsParams) (int64, error)
	ListExperimenters(ctx context.Context, key models.SessionKey) ([]string, error)

	// CreateTrialSetIfAbsent inserts the trial set, its trials and event
	// times in one transaction unless the trial set already exists.
	CreateTrialSetIfAbsent(ctx context.Context, set *models.TrialSet, trials []models.Trial, events []models.EventTime) (bool, error)
	GetTrialSet(ctx context.Context, key models.SessionKey) (*models.TrialSet, error)
	ListTrials(ctx context.Context, key models.SessionKey) ([]models.Trial, error)
	CountTrials(ctx context.Context, key models.SessionKey) (int64, error)
	ListEventTimes(ctx context.Context, key models.SessionKey) ([]models.EventTime, error)

	InsertLickTimes(ctx context.Context, item *models.LickTimes) error
	GetLickTimes(ctx context.Context, key models.SessionKey) (*models.LickTimes, error)

	RecordIngestedFile(ctx context.Context, item *models.IngestedFile) error
	ListIngestedFiles(ctx context.Context) ([]models.IngestedFile, error)
}

// ExtracellularRepository covers probe insertions, units and derived tables.
type ExtracellularRepository interface {
	InsertProbeInsertion(ctx context.Context, item *models.ProbeInsertion) error
	GetProbeInsertion(ctx context.Context, key models.SessionKey) (*models.ProbeInsertion, error)

	InsertUnits(ctx context.Context, items []models.UnitSpikeTimes) error
	ListUnits(ctx context.Context, key models.SessionKey) ([]models.UnitSpikeTimes, error)
	GetUnit(ctx context.Context, key models.UnitKey) (*models.UnitSpikeTimes, error)
	CountUnits(ctx context.Context, key models.SessionKey) (int64, error)

	InsertTrialSegments(ctx context.Context, items []models.TrialSegmentedUnitSpikeTimes) error
	ListTrialSegments(ctx context.Context, params ListTrialSegmentsParams) ([]models.TrialSegmentedUnitSpikeTimes, error)
	ListTrialSegmentKeys(ctx context.Context, key models.SessionKey, settingID uint) ([]models.SegmentKey, error)

	InsertUnitPSTHs(ctx context.Context, items []models.UnitPSTH) error
	ListUnitPSTHs(ctx context.Context, key models.SessionKey, settingID *uint) ([]models.UnitPSTH, error)
	ListUnitPSTHKeys(ctx context.Context, key models.SessionKey, settingID uint) ([]models.SegmentKey, error)
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	ReferenceRepository
	AcquisitionRepository
	ExtracellularRepository
}

type ListSessionsParams struct {
	Limit     int
	Offset    int
	SubjectID *string
	OrderBy   string
	Asc       *bool
}

type ListTrialSegmentsParams struct {
	Session   models.SessionKey
	UnitID    *int
	TrialID   *int
	SettingID *uint
	Limit     int
	Offset    int
}
