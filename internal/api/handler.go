package api

import (
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/notification"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db      *gorm.DB
	machine *claim.Machine
	cfg     *config.ServerConfig
	webpush *webpush.Options
	alerts  *notification.WorkerPool

	opMu    sync.Mutex
	opLocks map[string]*sync.Mutex
}

// NewHandler creates a new API handler.
func NewHandler(db *gorm.DB, machine *claim.Machine, cfg *config.ServerConfig, webpushOptions *webpush.Options, alerts *notification.WorkerPool) *Handler {
	return &Handler{
		db:      db,
		machine: machine,
		cfg:     cfg,
		webpush: webpushOptions,
		alerts:  alerts,
		opLocks: make(map[string]*sync.Mutex),
	}
}

// lockOp serializes requests carrying the same operation id.
func (h *Handler) lockOp(opID string) func() {
	h.opMu.Lock()
	l, ok := h.opLocks[opID]
	if !ok {
		l = &sync.Mutex{}
		h.opLocks[opID] = l
	}
	h.opMu.Unlock()
	l.Lock()
	return l.Unlock
}
