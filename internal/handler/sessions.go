package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/auth"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/service"
)

type SessionHandler struct {
	Repo   repository.Repository
	Export *service.ExportService
	JWT    auth.JWT
	Logger *zap.Logger
	// Defaults for POST .../export; the request body may override a subset.
	ExportOptions service.ExportOptions
}

func (h *SessionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/sessions", auth.Middleware(h.JWT))
	g.GET("", h.list)
	g.GET("/:subject/:session", h.get)
	g.GET("/:subject/:session/units", h.units)
	g.GET("/:subject/:session/units/:unit/segments", h.segments)
	g.POST("/:subject/:session/export", auth.RequireScope(h.JWT, auth.ScopeExport), h.export)
}

type sessionView struct {
	SubjectID   string `json:"subject_id"`
	SessionID   int    `json:"session_id"`
	SessionDate string `json:"session_date"`
	Note        string `json:"session_note,omitempty"`
}

type sessionDetailView struct {
	sessionView
	Experimenters []string    `json:"experimenters"`
	Species       string      `json:"species,omitempty"`
	Sex           string      `json:"sex,omitempty"`
	Probe         *probeView  `json:"probe,omitempty"`
	TrialCount    int64       `json:"trial_count"`
	UnitCount     int64       `json:"unit_count"`
	Identifier    string      `json:"identifier"`
	Alleles       []string    `json:"alleles,omitempty"`
	LickCounts    *lickCounts `json:"lick_counts,omitempty"`
}

type probeView struct {
	Name           string `json:"name"`
	ChannelCounts  int    `json:"channel_counts"`
	BrainRegion    string `json:"brain_region"`
	Hemisphere     string `json:"hemisphere"`
	CorticalLayer  string `json:"cortical_layer"`
	InsertionDepth string `json:"insertion_depth_um"`
}

type lickCounts struct {
	Left  int64 `json:"left"`
	Right int64 `json:"right"`
}

type unitView struct {
	ProbeName  string          `json:"probe_name"`
	UnitID     int             `json:"unit_id"`
	ChannelID  int             `json:"channel_id"`
	CellType   string          `json:"cell_type"`
	Quality    string          `json:"quality"`
	DepthUM    float64         `json:"depth_um"`
	SpikeCount int64           `json:"spike_count"`
	SpikeTimes json.RawMessage `json:"spike_times,omitempty"`
}

type segmentView struct {
	UnitID          int             `json:"unit_id"`
	TrialID         int             `json:"trial_id"`
	TrialSegSetting uint            `json:"trial_seg_setting"`
	SpikeTimes      json.RawMessage `json:"segmented_spike_times"`
}

func toSessionView(s models.Session) sessionView {
	return sessionView{
		SubjectID:   s.SubjectID,
		SessionID:   s.SessionID,
		SessionDate: s.SessionTime.Format(time.DateOnly),
		Note:        s.SessionNote,
	}
}

// @Summary List sessions
// @Tags sessions
// @Param subject_id query string false "subject id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param order_by query string false "subject_id|session_id|session_time"
// @Param order query string false "asc|desc"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions [get]
func (h *SessionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var subjectID *string
	if v := strings.TrimSpace(c.Query("subject_id")); v != "" {
		subjectID = &v
	}
	params := repository.ListSessionsParams{
		Limit:     limit,
		Offset:    offset,
		SubjectID: subjectID,
		OrderBy:   strings.TrimSpace(c.Query("order_by")),
		Asc:       boolPtr(!strings.EqualFold(c.Query("order"), "desc")),
	}
	items, err := h.Repo.ListSessions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSessions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]sessionView, 0, len(items))
	for _, s := range items {
		out = append(out, toSessionView(s))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

// sessionKey reads :subject and :session; it writes the error response
// itself and returns false on bad input.
func (h *SessionHandler) sessionKey(c *gin.Context) (models.SessionKey, bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return models.SessionKey{}, false
	}
	subject := strings.TrimSpace(c.Param("subject"))
	sessionID, ok := intParam(c, "session")
	if subject == "" || !ok {
		Error(c, http.StatusBadRequest, "invalid session key", nil)
		return models.SessionKey{}, false
	}
	return models.SessionKey{SubjectID: subject, SessionID: sessionID}, true
}

// @Summary Get session
// @Tags sessions
// @Param subject path string true "subject id"
// @Param session path int true "session id"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/sessions/{subject}/{session} [get]
func (h *SessionHandler) get(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.Repo.GetSession(ctx, key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if sess == nil {
		Error(c, http.StatusNotFound, "session not found", nil)
		return
	}

	view := sessionDetailView{sessionView: toSessionView(*sess), Identifier: service.Identifier(*sess)}
	if view.Experimenters, err = h.Repo.ListExperimenters(ctx, key); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if subj, err := h.Repo.GetSubject(ctx, key.SubjectID); err == nil && subj != nil {
		view.Species = subj.Species
		view.Sex = subj.Sex
	}
	if alleles, err := h.Repo.ListSubjectAlleles(ctx, key.SubjectID); err == nil {
		for _, a := range alleles {
			view.Alleles = append(view.Alleles, a.Allele)
		}
	}
	if pi, err := h.Repo.GetProbeInsertion(ctx, key); err == nil && pi != nil {
		view.Probe = &probeView{
			Name:           pi.ProbeName,
			ChannelCounts:  pi.ChannelCounts,
			BrainRegion:    pi.BrainRegion,
			Hemisphere:     pi.Hemisphere,
			CorticalLayer:  pi.CorticalLayer,
			InsertionDepth: pi.InsertionDepth.StringFixed(2),
		}
	}
	if licks, err := h.Repo.GetLickTimes(ctx, key); err == nil && licks != nil {
		view.LickCounts = &lickCounts{
			Left:  gjson.GetBytes(licks.LickLeftTimes, "#").Int(),
			Right: gjson.GetBytes(licks.LickRightTimes, "#").Int(),
		}
	}
	if view.TrialCount, err = h.Repo.CountTrials(ctx, key); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if view.UnitCount, err = h.Repo.CountUnits(ctx, key); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, view, nil)
}

// @Summary List session units
// @Tags sessions
// @Param subject path string true "subject id"
// @Param session path int true "session id"
// @Param spikes query bool false "include spike times"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{subject}/{session}/units [get]
func (h *SessionHandler) units(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	withSpikes, _ := strconv.ParseBool(c.DefaultQuery("spikes", "false"))
	items, err := h.Repo.ListUnits(c.Request.Context(), key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]unitView, 0, len(items))
	for _, u := range items {
		v := unitView{
			ProbeName:  u.ProbeName,
			UnitID:     u.UnitID,
			ChannelID:  u.ChannelID,
			CellType:   string(u.UnitCellType),
			Quality:    u.UnitQuality,
			DepthUM:    u.UnitDepth,
			SpikeCount: gjson.GetBytes(u.SpikeTimes, "#").Int(),
		}
		if withSpikes {
			v.SpikeTimes = json.RawMessage(u.SpikeTimes)
		}
		out = append(out, v)
	}
	Ok(c, out, map[string]any{"total": len(out)})
}

// @Summary List trial-segmented spike times of a unit
// @Tags sessions
// @Param subject path string true "subject id"
// @Param session path int true "session id"
// @Param unit path int true "unit id"
// @Param setting query int false "segmentation setting id"
// @Param trial_id query int false "trial id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{subject}/{session}/units/{unit}/segments [get]
func (h *SessionHandler) segments(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	unitID, ok := intParam(c, "unit")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid unit", nil)
		return
	}
	var setting *uint
	if v := intQueryPtr(c, "setting"); v != nil {
		if *v < 0 {
			Error(c, http.StatusBadRequest, "invalid setting", nil)
			return
		}
		s := uint(*v)
		setting = &s
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListTrialSegments(c.Request.Context(), repository.ListTrialSegmentsParams{
		Session:   key,
		UnitID:    &unitID,
		TrialID:   intQueryPtr(c, "trial_id"),
		SettingID: setting,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]segmentView, 0, len(items))
	for _, s := range items {
		out = append(out, segmentView{
			UnitID:          s.UnitID,
			TrialID:         s.TrialID,
			TrialSegSetting: s.TrialSegSetting,
			SpikeTimes:      json.RawMessage(s.SegmentedSpikeTimes),
		})
	}
	Ok(c, out, map[string]any{"limit": limit, "offset": offset, "count": len(out)})
}

type exportRequest struct {
	Overwrite *bool    `json:"overwrite"`
	Container string   `json:"container"`
	Formats   []string `json:"formats"`
}

// @Summary Export session to NWB and EDF
// @Tags export
// @Param subject path string true "subject id"
// @Param session path int true "session id"
// @Param body body exportRequest false "export overrides"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{subject}/{session}/export [post]
func (h *SessionHandler) export(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	if h.Export == nil {
		Error(c, http.StatusInternalServerError, "export unavailable", nil)
		return
	}
	var req exportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid request body", nil)
			return
		}
	}
	opts := h.ExportOptions
	if req.Overwrite != nil {
		opts.Overwrite = *req.Overwrite
	}
	if v := strings.TrimSpace(req.Container); v != "" {
		opts.Container = v
	}
	if len(req.Formats) > 0 {
		opts.Formats = req.Formats
	}

	res, err := h.Export.ExportSession(c.Request.Context(), key, opts)
	if errors.Is(err, service.ErrSessionNotFound) {
		Error(c, http.StatusNotFound, "session not found", nil)
		return
	}
	if errors.Is(err, service.ErrExportInProgress) {
		Error(c, http.StatusConflict, "export already in progress", nil)
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("export failed", zap.String("session", key.String()), zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, res, nil)
}
