package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questledger/audit"
	"github.com/kasuganosora/questledger/game/quest"
	mw "github.com/kasuganosora/questledger/middleware"
)

// ProgressHandler exposes the quest progress store over HTTP.
type ProgressHandler struct {
	store *quest.Store
	audit *audit.Service
	now   func() time.Time
}

// NewProgressHandler creates a ProgressHandler. auditSvc may be nil.
func NewProgressHandler(store *quest.Store, auditSvc *audit.Service) *ProgressHandler {
	return &ProgressHandler{store: store, audit: auditSvc, now: time.Now}
}

type titleRequest struct {
	Title string `json:"title"`
}

// List returns every quest record with per-status counts.
// GET /api/progress
func (h *ProgressHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"quests": h.store.AllProgress(),
		"counts": h.store.StatusCounts(),
	})
}

// Get returns one quest record.
// GET /api/progress/quests/:id
func (h *ProgressHandler) Get(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	rec, found := h.store.Progress(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not tracked"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Start marks a quest in progress.
// POST /api/progress/quests/:id/start
func (h *ProgressHandler) Start(c *gin.Context) {
	h.transition(c, h.store.StartQuest)
}

// Complete marks a quest completed.
// POST /api/progress/quests/:id/complete
func (h *ProgressHandler) Complete(c *gin.Context) {
	h.transition(c, h.store.CompleteQuest)
}

// Fail marks a quest failed.
// POST /api/progress/quests/:id/fail
func (h *ProgressHandler) Fail(c *gin.Context) {
	h.transition(c, h.store.FailQuest)
}

func (h *ProgressHandler) transition(c *gin.Context, fn func(int, string)) {
	id, ok := questID(c)
	if !ok {
		return
	}
	var req titleRequest
	if !bindOptional(c, &req) {
		return
	}
	fn(id, req.Title)
	h.respondRecord(c, id)
}

// SetStatus sets the status without recording a timeline event.
// PUT /api/progress/quests/:id/status
func (h *ProgressHandler) SetStatus(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	var req struct {
		Status quest.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	if !h.store.UpdateQuestStatus(id, req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	h.respondRecord(c, id)
}

// ToggleObjective flips one objective.
// POST /api/progress/quests/:id/objectives/:oid/toggle
func (h *ProgressHandler) ToggleObjective(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	oid, err := strconv.Atoi(c.Param("oid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid objective id"})
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if !bindOptional(c, &req) {
		return
	}
	completed := h.store.ToggleObjective(id, oid, req.Description)
	c.JSON(http.StatusOK, gin.H{"questId": id, "objectiveId": oid, "completed": completed})
}

// SetNote replaces the quest note.
// PUT /api/progress/quests/:id/note
func (h *ProgressHandler) SetNote(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	var req struct {
		Notes *string `json:"notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notes required"})
		return
	}
	h.store.SetQuestNote(id, *req.Notes)
	h.respondRecord(c, id)
}

// AddAttachment attaches a blob reference to the quest note.
// POST /api/progress/quests/:id/attachments
func (h *ProgressHandler) AddAttachment(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	var req quest.Attachment
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attachment name required"})
		return
	}
	req.AddedAt = time.Time{}
	aid := h.store.AddNoteAttachment(id, req)
	c.JSON(http.StatusCreated, gin.H{"id": aid})
}

// RemoveAttachment detaches a blob reference.
// DELETE /api/progress/quests/:id/attachments/:aid
func (h *ProgressHandler) RemoveAttachment(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	if !h.store.RemoveNoteAttachment(id, c.Param("aid")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CollectReward records a reward for a quest.
// POST /api/progress/quests/:id/rewards
func (h *ProgressHandler) CollectReward(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	var req struct {
		Title string           `json:"title"`
		Type  quest.RewardType `json:"type" binding:"required"`
		Value string           `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and value required"})
		return
	}
	added := h.store.CollectReward(id, req.Title, quest.Reward{Type: req.Type, Value: req.Value})
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"added": added, "totalRewards": h.store.TotalRewards()})
}

// ResetQuest forgets one quest and its timeline events.
// DELETE /api/progress/quests/:id
func (h *ProgressHandler) ResetQuest(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	start := h.now()
	existed := h.store.ResetQuest(id)
	h.record(c, audit.ActionReset, &id, gin.H{"existed": existed}, nil, start)
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not tracked"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Timeline returns the newest events first.
// GET /api/progress/timeline?limit=
func (h *ProgressHandler) Timeline(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": h.store.Timeline(limit)})
}

// Rewards returns the ledger and the flattened reward list.
// GET /api/progress/rewards
func (h *ProgressHandler) Rewards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"totalRewards": h.store.TotalRewards(),
		"collected":    h.store.CollectedRewards(),
	})
}

// Export downloads the full progress document.
// GET /api/progress/export
func (h *ProgressHandler) Export(c *gin.Context) {
	start := h.now()
	doc := h.store.ExportAllProgress()
	h.record(c, audit.ActionExport, nil, gin.H{"bytes": len(doc)}, nil, start)
	c.Header("Content-Disposition", `attachment; filename="`+quest.ExportFileName(start)+`"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}

func (h *ProgressHandler) respondRecord(c *gin.Context, id int) {
	rec, _ := h.store.Progress(id)
	c.JSON(http.StatusOK, rec)
}

func (h *ProgressHandler) record(c *gin.Context, action string, questID *int, detail any, err error, start time.Time) {
	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		Action:   action,
		QuestID:  questID,
		Detail:   detail,
		Err:      err,
		IP:       c.ClientIP(),
		Duration: h.now().Sub(start),
	})
}

func questID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quest id"})
		return 0, false
	}
	return id, true
}

// bindOptional decodes a JSON body when one is sent. An empty body is fine.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return false
	}
	return true
}
