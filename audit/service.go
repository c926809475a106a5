package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/questledger/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the ledger.
const (
	ActionExport   = "export"
	ActionImport   = "import"
	ActionReset    = "reset"
	ActionRestore  = "restore"
	ActionSnapshot = "snapshot"
)

// Entry is one audited operation.
type Entry struct {
	TraceID  string
	Action   string
	QuestID  *int
	Detail   any
	Err      error
	IP       string
	Duration time.Duration
}

// Options tunes batching. Zero values fall back to the defaults.
type Options struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	return o
}

// Service writes audit rows asynchronously in batches. Log never blocks;
// entries are dropped with a warning when the buffer is full.
type Service struct {
	db     *gorm.DB
	opts   Options
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
	logger *zap.Logger
}

// New starts the background writer.
func New(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	opts = opts.withDefaults()
	svc := &Service{
		db:     db,
		opts:   opts,
		ch:     make(chan *model.AuditLog, opts.Buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go svc.worker()
	return svc
}

// Log enqueues an entry. It is safe to call on a nil Service.
func (svc *Service) Log(e Entry) {
	if svc == nil {
		return
	}
	row := &model.AuditLog{
		TraceID:    e.TraceID,
		Action:     e.Action,
		QuestID:    e.QuestID,
		IP:         e.IP,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	if e.Detail != nil {
		if b, err := json.Marshal(e.Detail); err == nil {
			row.Detail = datatypes.JSON(b)
		}
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
	}

	select {
	case <-svc.stopCh:
		svc.logger.Warn("audit service stopped, dropping entry", zap.String("action", e.Action))
		return
	default:
	}
	select {
	case svc.ch <- row:
	default:
		svc.logger.Warn("audit buffer full, dropping entry", zap.String("action", e.Action))
	}
}

// Stop flushes buffered entries and waits for the writer to exit or for ctx
// to end, whichever comes first. Calling it more than once is harmless.
func (svc *Service) Stop(ctx context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	select {
	case <-svc.done:
	case <-ctx.Done():
		svc.logger.Warn("audit stop timed out", zap.Error(ctx.Err()))
	}
}

func (svc *Service) worker() {
	defer close(svc.done)
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.CreateInBatches(batch, svc.opts.BatchSize).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-svc.ch:
			batch = append(batch, row)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case row := <-svc.ch:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}
