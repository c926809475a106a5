package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questledger/audit"
	"github.com/kasuganosora/questledger/game/quest"
	mw "github.com/kasuganosora/questledger/middleware"
	"github.com/kasuganosora/questledger/scheduler"
	"github.com/kasuganosora/questledger/snapshot"
	"go.uber.org/zap"
)

// AdminHandler serves bulk and destructive ledger operations.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	store     *quest.Store
	snaps     *snapshot.Service
	sched     *scheduler.Scheduler
	audit     *audit.Service
	maxImport int64
	logger    *zap.Logger
	now       func() time.Time
}

// NewAdminHandler creates an AdminHandler. snaps, sched and auditSvc may be nil.
func NewAdminHandler(
	store *quest.Store,
	snaps *snapshot.Service,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	maxImport int64,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		store:     store,
		snaps:     snaps,
		sched:     sched,
		audit:     auditSvc,
		maxImport: maxImport,
		logger:    logger,
		now:       time.Now,
	}
}

// Import loads an exported document, replacing or merging into live state.
// The current state is snapshotted first when snapshots are enabled.
// POST /api/progress/import?merge=true
func (h *AdminHandler) Import(c *gin.Context) {
	start := h.now()
	merge, err := strconv.ParseBool(c.DefaultQuery("merge", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merge must be true or false"})
		return
	}

	body := c.Request.Body
	if h.maxImport > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxImport)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	// rejected documents never reach the backup step
	doc, err := quest.ParseDocument(string(raw))
	if err != nil {
		h.log(c, audit.ActionImport, gin.H{"merge": merge, "bytes": len(raw)}, err, start)
		if errors.Is(err, quest.ErrUnsupportedVersion) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.snaps != nil {
		if _, _, err := h.snaps.Take(c.Request.Context(), snapshot.ReasonPreImport); err != nil {
			h.logger.Error("pre-import snapshot failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not back up current progress"})
			return
		}
	}

	h.store.ImportDocument(doc, merge)
	h.log(c, audit.ActionImport, gin.H{"merge": merge, "bytes": len(raw)}, nil, start)
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"merge":    merge,
		"revision": h.store.Revision(),
		"counts":   h.store.StatusCounts(),
	})
}

// ResetAll clears every record, the timeline and the ledger.
// POST /api/progress/reset
func (h *AdminHandler) ResetAll(c *gin.Context) {
	start := h.now()
	h.store.ResetAllProgress()
	h.log(c, audit.ActionReset, nil, nil, start)
	c.JSON(http.StatusOK, gin.H{"ok": true, "revision": h.store.Revision()})
}

// ListSnapshots returns snapshot metadata, newest first.
// GET /api/progress/snapshots?limit=
func (h *AdminHandler) ListSnapshots(c *gin.Context) {
	if !h.snapshotsEnabled(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := h.snaps.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": rows})
}

// TakeSnapshot stores the current state on demand.
// POST /api/progress/snapshots
func (h *AdminHandler) TakeSnapshot(c *gin.Context) {
	if !h.snapshotsEnabled(c) {
		return
	}
	start := h.now()
	row, _, err := h.snaps.Take(c.Request.Context(), snapshot.ReasonManual)
	h.log(c, audit.ActionSnapshot, nil, err, start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
		return
	}
	c.JSON(http.StatusCreated, row)
}

// RestoreSnapshot replaces live progress with a stored snapshot.
// POST /api/progress/snapshots/:id/restore
func (h *AdminHandler) RestoreSnapshot(c *gin.Context) {
	if !h.snapshotsEnabled(c) {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	start := h.now()
	err = h.snaps.Restore(c.Request.Context(), id)
	h.log(c, audit.ActionRestore, gin.H{"snapshot_id": id}, err, start)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "revision": h.store.Revision()})
	}
}

// Status reports persistence health and background tasks.
// GET /api/progress/status
func (h *AdminHandler) Status(c *gin.Context) {
	resp := gin.H{
		"revision": h.store.Revision(),
		"dirty":    h.store.Dirty(),
		"counts":   h.store.StatusCounts(),
	}
	if h.sched != nil {
		resp["tasks"] = h.sched.Tasks()
	}
	c.JSON(http.StatusOK, resp)
}

// RunTask triggers a scheduler task immediately.
// POST /api/progress/tasks/:name/run
func (h *AdminHandler) RunTask(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	if err := h.sched.Trigger(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (h *AdminHandler) snapshotsEnabled(c *gin.Context) bool {
	if h.snaps == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshots disabled"})
		return false
	}
	return true
}

func (h *AdminHandler) log(c *gin.Context, action string, detail any, err error, start time.Time) {
	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		Action:   action,
		Detail:   detail,
		Err:      err,
		IP:       c.ClientIP(),
		Duration: h.now().Sub(start),
	})
}
