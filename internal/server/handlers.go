package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/dom"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/loader"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/middleware"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/page"
)

// maxBodySize bounds request bodies read in full
const maxBodySize = 32 << 20

type handlers struct {
	bridge  *bridge.Bridge
	loader  *loader.Loader
	hub     *Hub
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// CreatePageRequest opens a page. A zero context ID asks for a fresh one.
type CreatePageRequest struct {
	ContextID int32 `json:"context_id"`
}

// EvaluateScriptsRequest evaluates a script bundle
type EvaluateScriptsRequest struct {
	Source       string `json:"source" binding:"required"`
	Filename     string `json:"filename"`
	StartLine    int32  `json:"start_line"`
	EmitBytecode bool   `json:"emit_bytecode"`
}

// ModuleEventRequest delivers an event to a module listener
type ModuleEventRequest struct {
	Type  string          `json:"type" binding:"required"`
	Event json.RawMessage `json:"event"`
	Extra json.RawMessage `json:"extra"`
}

// LoadBundleRequest fetches a remote bundle into a page
type LoadBundleRequest struct {
	URL string `json:"url" binding:"required"`
}

// Health reports liveness and bridge statistics
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"pages":    len(h.bridge.Pages()),
		"programs": h.bridge.ProgramStats(),
	})
}

// ListPages lists the open pages
func (h *handlers) ListPages(c *gin.Context) {
	ptrs := h.bridge.Pages()
	pages := make([]gin.H, 0, len(ptrs))
	for _, ptr := range ptrs {
		p, err := h.bridge.Page(ptr)
		if err != nil {
			continue
		}
		pages = append(pages, gin.H{
			"page":       uint64(ptr),
			"page_id":    p.ID().String(),
			"context_id": p.Context().ContextID(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

// CreatePage opens a page
func (h *handlers) CreatePage(c *gin.Context) {
	var req CreatePageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	contextID := req.ContextID
	if contextID == 0 {
		contextID = h.bridge.NextContextID()
	}

	ptr, err := h.bridge.NewPage(contextID, nil, middleware.GetRequestID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	p, err := h.bridge.Page(ptr)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"page":       uint64(ptr),
		"page_id":    p.ID().String(),
		"context_id": contextID,
	})
}

// ClosePage closes a page after its queued work drains
func (h *handlers) ClosePage(c *gin.Context) {
	ptr, ok := h.pointer(c)
	if !ok {
		return
	}
	if err := h.bridge.ClosePage(ptr); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "page": uint64(ptr)})
}

// EvaluateScripts runs a script bundle and optionally returns its bytecode
func (h *handlers) EvaluateScripts(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}

	var req EvaluateScriptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Filename == "" {
		req.Filename = "bundle.js"
	}

	h.evaluateScripts(c, ptr, []byte(req.Source), req.Filename, req.StartLine, req.EmitBytecode)
}

func (h *handlers) evaluateScripts(c *gin.Context, ptr bridge.PagePointer, code []byte, filename string, startLine int32, emit bool) {
	var out []byte
	var bytecodeOut *[]byte
	if emit {
		bytecodeOut = &out
	}

	done := make(chan bool, 1)
	h.bridge.EvaluateScripts(ptr, code, bytecodeOut, filename, startLine, 0, func(_ bridge.HostHandle, ok bool) {
		done <- ok
	})

	select {
	case ok := <-done:
		resp := gin.H{"ok": ok}
		if emit {
			resp["bytecode"] = out
		}
		c.JSON(http.StatusOK, resp)
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	}
}

// EvaluateByteCode runs a bytecode unit sent as the raw request body
func (h *handlers) EvaluateByteCode(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}

	data, ok := h.body(c)
	if !ok {
		return
	}
	h.evaluateByteCode(c, ptr, data)
}

func (h *handlers) evaluateByteCode(c *gin.Context, ptr bridge.PagePointer, data []byte) {
	done := make(chan bool, 1)
	h.bridge.EvaluateByteCode(ptr, data, 0, func(_ bridge.PersistentHandle, ok bool) {
		done <- ok
	})

	select {
	case ok := <-done:
		c.JSON(http.StatusOK, gin.H{"ok": ok})
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	}
}

// ParseHTML parses the raw request body into the page document
func (h *handlers) ParseHTML(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}

	data, ok := h.body(c)
	if !ok {
		return
	}
	h.bridge.ParseHTML(ptr, data)
	c.Status(http.StatusNoContent)
}

// LoadBundle fetches a remote bundle and runs it according to its kind
func (h *handlers) LoadBundle(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}

	var req LoadBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bundle, err := h.loader.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch bundle.Kind {
	case loader.KindScript:
		h.evaluateScripts(c, ptr, bundle.Data, bundle.Name, 1, false)
	case loader.KindBytecode:
		h.evaluateByteCode(c, ptr, bundle.Data)
	case loader.KindMarkup:
		h.bridge.ParseHTML(ptr, bundle.Data)
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("cannot run %s bundle", bundle.Kind)})
	}
}

// InvokeModuleEvent delivers an event to a module listener
func (h *handlers) InvokeModuleEvent(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}

	var req ModuleEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	done := make(chan bridge.ModuleEventResult, 1)
	h.bridge.InvokeModuleEvent(ptr, c.Param("name"), req.Type, req.Event, req.Extra, 0, func(_ bridge.HostHandle, result bridge.ModuleEventResult) {
		done <- result
	})

	select {
	case result := <-done:
		value := json.RawMessage("null")
		if len(result.Value) > 0 {
			value = result.Value
		}
		c.JSON(http.StatusOK, gin.H{"ok": result.OK, "value": value})
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	}
}

// Document serializes the page document
func (h *handlers) Document(c *gin.Context) {
	_, p, ok := h.page(c)
	if !ok {
		return
	}

	var markup string
	var renderErr error
	if err := p.Do(func() { markup, renderErr = p.Document().HTML() }); err != nil {
		h.fail(c, err)
		return
	}
	if renderErr != nil {
		h.fail(c, renderErr)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(markup))
}

// Changes returns and clears the page's document mutation log
func (h *handlers) Changes(c *gin.Context) {
	_, p, ok := h.page(c)
	if !ok {
		return
	}

	var changes []dom.Change
	if err := p.Do(func() { changes = p.Document().ResetChanges() }); err != nil {
		h.fail(c, err)
		return
	}
	if changes == nil {
		changes = []dom.Change{}
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

// Exceptions streams the page's exceptions over a websocket
func (h *handlers) Exceptions(c *gin.Context) {
	ptr, _, ok := h.page(c)
	if !ok {
		return
	}
	h.hub.Stream(c, ptr)
}

// MetricsSnapshot returns the current metric values as JSON
func (h *handlers) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

func (h *handlers) pointer(c *gin.Context) (bridge.PagePointer, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || raw == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid page id %q", c.Param("id"))})
		return 0, false
	}
	return bridge.PagePointer(raw), true
}

func (h *handlers) page(c *gin.Context) (bridge.PagePointer, *page.Page, bool) {
	ptr, ok := h.pointer(c)
	if !ok {
		return 0, nil, false
	}
	p, err := h.bridge.Page(ptr)
	if err != nil {
		h.fail(c, err)
		return 0, nil, false
	}
	return ptr, p, true
}

func (h *handlers) body(c *gin.Context) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return nil, false
	}
	return data, true
}

// fail maps bridge and loader errors to status codes
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bridge.ErrUnknownPage):
		status = http.StatusNotFound
	case errors.Is(err, bridge.ErrContextIDReused):
		status = http.StatusConflict
	case errors.Is(err, bridge.ErrPageClosed), errors.Is(err, bridge.ErrRegistryShutdown):
		status = http.StatusGone
	case errors.Is(err, page.ErrQueueFull), errors.Is(err, loader.ErrCircuitOpen), errors.Is(err, loader.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
	case errors.Is(err, loader.ErrFetch):
		status = http.StatusBadGateway
	case errors.Is(err, loader.ErrUnsupported):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			logging.RequestID(middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
