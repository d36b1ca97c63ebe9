package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mobomo/C2/internal/application/service"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/domain/workflow"
)

// ActorHeader names the authenticated user. Authentication itself happens upstream.
const ActorHeader = "X-User-Email"

const actorKey = "actor"

// Handlers contains all HTTP request handlers
type Handlers struct {
	proposals service.ProposalService
	health    HealthFunc
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(proposals service.ProposalService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		proposals: proposals,
		health:    health,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequest is the body of POST /api/proposals
type SubmitRequest struct {
	Name           string          `json:"name" binding:"required"`
	Flow           string          `json:"flow"`
	RequesterEmail string          `json:"requester_email"`
	Approvers      []string        `json:"approvers"`
	ApprovalGroup  string          `json:"approval_group"`
	Observers      []string        `json:"observers"`
	ClientDataType string          `json:"client_data_type"`
	ClientData     json.RawMessage `json:"client_data"`
	Comment        string          `json:"comment"`
}

// ActionRequest is the body of a step action
type ActionRequest struct {
	Status string `json:"status" form:"status" binding:"required"`
}

// TokenActionRequest acts through an emailed credential
type TokenActionRequest struct {
	Token  string `json:"token" form:"token" binding:"required"`
	Status string `json:"status" form:"status" binding:"required"`
}

// ClientDataRequest replaces a proposal's client payload
type ClientDataRequest struct {
	ClientDataType string          `json:"client_data_type" binding:"required"`
	ClientData     json.RawMessage `json:"client_data" binding:"required"`
}

// CommentRequest adds a comment
type CommentRequest struct {
	Body string `json:"body"`
}

// ObserverRequest adds an observer
type ObserverRequest struct {
	Email string `json:"email" binding:"required"`
}

// ObserverActiveRequest toggles an observer
type ObserverActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// ListProposalsRequest represents query parameters for listing proposals
type ListProposalsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// TransitionResponse reports what an action did
type TransitionResponse struct {
	Transition service.TransitionKind `json:"transition"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		ok, details := h.health(c.Request.Context())
		resp.Components = details
		if !ok {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{Success: code == http.StatusOK, Data: resp})
}

// RequireActor resolves the X-User-Email header into a user
func (h *Handlers) RequireActor(c *gin.Context) {
	email := strings.TrimSpace(c.GetHeader(ActorHeader))
	if email == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: ActorHeader + " header is required"})
		return
	}

	user, err := h.proposals.ResolveUser(c.Request.Context(), email)
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Set(actorKey, user)
	c.Next()
}

func actor(c *gin.Context) *entity.User {
	if v, ok := c.Get(actorKey); ok {
		if u, ok := v.(*entity.User); ok {
			return u
		}
	}
	return nil
}

// SubmitProposal handles POST /api/proposals
func (h *Handlers) SubmitProposal(c *gin.Context) {
	var req SubmitRequest
	if !h.bind(c, &req) {
		return
	}

	requester := req.RequesterEmail
	if requester == "" {
		requester = actor(c).Email
	}

	view, err := h.proposals.Submit(c.Request.Context(), service.SubmitInput{
		Name: req.Name,
		Flow: req.Flow,
		Roles: service.RoleSpec{
			RequesterEmail: requester,
			ApproverEmails: req.Approvers,
			ApprovalGroup:  req.ApprovalGroup,
			ObserverEmails: req.Observers,
		},
		ClientDataType: req.ClientDataType,
		ClientData:     req.ClientData,
		InitialComment: req.Comment,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: view})
}

// ListProposals handles GET /api/proposals
func (h *Handlers) ListProposals(c *gin.Context) {
	var req ListProposalsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid query parameters"})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	proposals, err := h.proposals.List(c.Request.Context(), strings.ToUpper(req.Status), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if proposals == nil {
		proposals = []*entity.Proposal{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: proposals})
}

// GetProposal handles GET /api/proposals/:id
func (h *Handlers) GetProposal(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	view, err := h.proposals.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// RecordAction handles POST /api/proposals/:id/steps/:step_id/actions
func (h *Handlers) RecordAction(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	stepID, ok := h.idParam(c, "step_id")
	if !ok {
		return
	}
	var req ActionRequest
	if !h.bind(c, &req) {
		return
	}

	if !h.stepBelongs(c, id, stepID) {
		return
	}

	kind, err := h.proposals.RecordAction(c.Request.Context(), stepID, strings.ToUpper(req.Status), actor(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: TransitionResponse{Transition: kind}})
}

// ActWithToken handles GET and POST /api/actions
func (h *Handlers) ActWithToken(c *gin.Context) {
	var req TokenActionRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "token and status are required"})
		return
	}

	kind, err := h.proposals.RecordActionWithToken(c.Request.Context(), req.Token, strings.ToUpper(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: TransitionResponse{Transition: kind}})
}

// Restart handles POST /api/proposals/:id/restart
func (h *Handlers) Restart(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	if err := h.proposals.Restart(c.Request.Context(), id, actor(c).ID); err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithProposal(c, id, http.StatusOK)
}

// UpdateClientData handles PUT /api/proposals/:id/client-data
func (h *Handlers) UpdateClientData(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req ClientDataRequest
	if !h.bind(c, &req) {
		return
	}

	err := h.proposals.UpdateClientData(c.Request.Context(), id, actor(c).ID, req.ClientDataType, req.ClientData)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithProposal(c, id, http.StatusOK)
}

// AddComment handles POST /api/proposals/:id/comments
func (h *Handlers) AddComment(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req CommentRequest
	if !h.bind(c, &req) {
		return
	}

	comment, err := h.proposals.AddComment(c.Request.Context(), id, actor(c).ID, req.Body)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: comment})
}

// AddObserver handles POST /api/proposals/:id/observers
func (h *Handlers) AddObserver(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var req ObserverRequest
	if !h.bind(c, &req) {
		return
	}

	step, err := h.proposals.AddObserver(c.Request.Context(), id, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: step})
}

// SetObserverActive handles PUT /api/proposals/:id/observers/:step_id
func (h *Handlers) SetObserverActive(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	stepID, ok := h.idParam(c, "step_id")
	if !ok {
		return
	}
	var req ObserverActiveRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.proposals.SetObserverActive(c.Request.Context(), id, stepID, *req.Active); err != nil {
		h.fail(c, err)
		return
	}
	h.respondWithProposal(c, id, http.StatusOK)
}

func (h *Handlers) respondWithProposal(c *gin.Context, id int64, code int) {
	view, err := h.proposals.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(code, Response{Success: true, Data: view})
}

func (h *Handlers) stepBelongs(c *gin.Context, proposalID, stepID int64) bool {
	view, err := h.proposals.Get(c.Request.Context(), proposalID)
	if err != nil {
		h.fail(c, err)
		return false
	}
	for _, s := range view.Steps {
		if s.ID == stepID {
			return true
		}
	}
	h.fail(c, service.ErrStepNotFound)
	return false
}

func (h *Handlers) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handlers) idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

// fail maps service errors onto status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	var verr *clientdata.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, Response{Error: err.Error(), Data: verr.Fields})
		return
	case errors.Is(err, service.ErrProposalNotFound), errors.Is(err, service.ErrStepNotFound):
		c.JSON(http.StatusNotFound, Response{Error: err.Error()})
		return
	case errors.Is(err, service.ErrNotAssignee):
		c.JSON(http.StatusForbidden, Response{Error: err.Error()})
		return
	case errors.Is(err, service.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, Response{Error: err.Error()})
		return
	case errors.Is(err, service.ErrOutOfTurn):
		c.JSON(http.StatusConflict, Response{Error: err.Error()})
		return
	case errors.Is(err, service.ErrInvalidStepStatus),
		errors.Is(err, service.ErrMissingApprovalGroup),
		errors.Is(err, service.ErrUnknownApprovalGroup),
		errors.Is(err, workflow.ErrInvalidFlow),
		errors.Is(err, clientdata.ErrUnknownClientType):
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, Response{Error: "internal error"})
}
