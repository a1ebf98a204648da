// Package api exposes the HTTP surface: vendor registration, RFP drafting
// and sending, and read access to ingested proposals.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rfpflow-io/rfpflow-ce/internal/email/outbound"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
	"github.com/rfpflow-io/rfpflow-ce/internal/repository"
)

type rfpGenerator interface {
	GenerateRFP(ctx context.Context, description string) (*models.RFPDraft, error)
}

type invitationSender interface {
	SendInvitations(rfp *models.RFP, vendors []*models.Vendor) []error
}

type jobLister interface {
	Jobs() []*models.ScheduledJob
}

// Handlers carries the dependencies of the HTTP layer.
type Handlers struct {
	vendors   *repository.VendorRepository
	rfps      *repository.RFPRepository
	proposals *repository.ProposalRepository
	generator rfpGenerator
	mailer    invitationSender
	jobs      jobLister
	logger    *log.Logger
}

// NewHandlers builds the handler set. The job lister may be nil when the
// process runs without a scheduler.
func NewHandlers(
	vendors *repository.VendorRepository,
	rfps *repository.RFPRepository,
	proposals *repository.ProposalRepository,
	generator rfpGenerator,
	mailer invitationSender,
	jobs jobLister,
	logger *log.Logger,
) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{
		vendors:   vendors,
		rfps:      rfps,
		proposals: proposals,
		generator: generator,
		mailer:    mailer,
		jobs:      jobs,
		logger:    logger,
	}
}

// HandleRegisterVendor handles POST /api/v1/vendors
func (h *Handlers) HandleRegisterVendor(c *gin.Context) {
	var req struct {
		Name    string  `json:"name" binding:"required"`
		Email   string  `json:"email" binding:"required,email"`
		Phone   *string `json:"phone"`
		Address *string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Name and a valid email are required"})
		return
	}

	vendor := &models.Vendor{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Phone:   req.Phone,
		Address: req.Address,
	}
	if err := h.vendors.Create(c.Request.Context(), vendor); err != nil {
		if errors.Is(err, repository.ErrConstraintViolation) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Vendor with this email already exists"})
			return
		}
		h.logger.Printf("api: vendor create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to register vendor"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": vendor})
}

// HandleGetVendor handles GET /api/v1/vendors/:id
func (h *Handlers) HandleGetVendor(c *gin.Context) {
	id := c.Param("id")
	if !models.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid vendor id"})
		return
	}
	vendor, err := h.vendors.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Vendor not found"})
			return
		}
		h.logger.Printf("api: vendor fetch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch vendor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": vendor})
}

// HandleListVendors handles GET /api/v1/vendors
func (h *Handlers) HandleListVendors(c *gin.Context) {
	vendors, err := h.vendors.List(c.Request.Context())
	if err != nil {
		h.logger.Printf("api: vendor list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch vendors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": vendors})
}

// HandleGenerateRFP handles POST /api/v1/rfps/generate
func (h *Handlers) HandleGenerateRFP(c *gin.Context) {
	var req struct {
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Description is required"})
		return
	}

	draft, err := h.generator.GenerateRFP(c.Request.Context(), req.Description)
	if err != nil {
		h.logger.Printf("api: rfp generation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "Failed to generate RFP"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": draft})
}

// HandleCreateRFP handles POST /api/v1/rfps
func (h *Handlers) HandleCreateRFP(c *gin.Context) {
	var req models.RFPDraft
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Title is required"})
		return
	}

	rfp := &models.RFP{
		Title:                 strings.TrimSpace(req.Title),
		DescriptionRaw:        req.DescriptionRaw,
		DescriptionStructured: req.DescriptionStructured,
		Status:                models.RFPStatusDraft,
	}
	if err := h.rfps.Create(c.Request.Context(), rfp); err != nil {
		h.logger.Printf("api: rfp create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create RFP"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": rfp})
}

// HandleGetRFP handles GET /api/v1/rfps/:id
func (h *Handlers) HandleGetRFP(c *gin.Context) {
	id := c.Param("id")
	if !models.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid RFP id"})
		return
	}
	rfp, err := h.rfps.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "RFP not found"})
			return
		}
		h.logger.Printf("api: rfp fetch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch RFP"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rfp})
}

// HandleListRFPs handles GET /api/v1/rfps
func (h *Handlers) HandleListRFPs(c *gin.Context) {
	rfps, err := h.rfps.List(c.Request.Context())
	if err != nil {
		h.logger.Printf("api: rfp list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch RFPs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rfps})
}

// HandleAssignVendors handles POST /api/v1/rfps/:id/vendors
func (h *Handlers) HandleAssignVendors(c *gin.Context) {
	id := c.Param("id")
	if !models.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid RFP id"})
		return
	}
	var req struct {
		VendorIDs []string `json:"vendorIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.VendorIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "vendorIds is required"})
		return
	}

	if _, err := h.vendors.GetByIDs(c.Request.Context(), req.VendorIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "One or more vendors do not exist"})
			return
		}
		h.logger.Printf("api: vendor lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to assign vendors"})
		return
	}

	if err := h.rfps.AssignVendors(c.Request.Context(), id, req.VendorIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "RFP not found"})
			return
		}
		h.logger.Printf("api: vendor assignment failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to assign vendors"})
		return
	}

	rfp, err := h.rfps.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Printf("api: rfp reload failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to assign vendors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rfp})
}

// HandleSendRFP handles POST /api/v1/rfps/:id/send
func (h *Handlers) HandleSendRFP(c *gin.Context) {
	id := c.Param("id")
	if !models.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid RFP id"})
		return
	}
	var req struct {
		VendorIDs []string `json:"vendorIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.VendorIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No vendors selected"})
		return
	}

	ctx := c.Request.Context()
	rfp, err := h.rfps.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "RFP not found"})
			return
		}
		h.logger.Printf("api: rfp fetch failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to send RFP"})
		return
	}

	vendors, err := h.vendors.GetByIDs(ctx, req.VendorIDs)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "One or more vendors do not exist"})
			return
		}
		h.logger.Printf("api: vendor lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to send RFP"})
		return
	}

	if errs := h.mailer.SendInvitations(rfp, vendors); len(errs) == len(vendors) {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "Failed to send invitations"})
		return
	} else if len(errs) > 0 {
		h.logger.Printf("api: %d of %d invitations failed for rfp %s", len(errs), len(vendors), id)
	}

	if err := h.rfps.AssignVendors(ctx, id, req.VendorIDs); err != nil {
		h.logger.Printf("api: vendor assignment after send failed: %v", err)
	}
	if err := h.rfps.UpdateStatus(ctx, id, models.RFPStatusSent); err != nil {
		h.logger.Printf("api: status update after send failed: %v", err)
	}

	sentTo := make([]string, 0, len(vendors))
	for _, v := range vendors {
		sentTo = append(sentTo, v.Email)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"sentTo":  sentTo,
			"subject": outbound.InvitationSubject(rfp.Title, rfp.ID),
		},
	})
}

// HandleListProposals handles GET /api/v1/rfps/:id/proposals
func (h *Handlers) HandleListProposals(c *gin.Context) {
	id := c.Param("id")
	if !models.ValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid RFP id"})
		return
	}
	ctx := c.Request.Context()
	if exists, err := h.rfps.Exists(ctx, id); err != nil {
		h.logger.Printf("api: rfp existence check failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch proposals"})
		return
	} else if !exists {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "RFP not found"})
		return
	}

	proposals, err := h.proposals.ListByRFP(ctx, id)
	if err != nil {
		h.logger.Printf("api: proposal list failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch proposals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": proposals})
}

// HandleListJobs handles GET /api/v1/jobs
func (h *Handlers) HandleListJobs(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.jobs.Jobs()})
}

// HandleHealthz handles GET /healthz
func (h *Handlers) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
