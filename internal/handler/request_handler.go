package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/service"
	"procurement/pkg/pagination"
	"procurement/pkg/response"
)

// maxUploadBytes caps proforma/receipt uploads at 10 MiB.
const maxUploadBytes = 10 << 20

type RequestHandler struct {
	requestService service.RequestService
}

func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	approverRoles := []string{model.RoleApproverL1, model.RoleApproverL2}

	requests := router.Group("/api/requests")
	{
		requests.GET("/", middleware.RequireRole(model.AllRoles...), h.ListRequests)
		requests.POST("/", middleware.RequireRole(model.RoleStaff), h.CreateRequest)
		requests.GET("/:id/", middleware.RequireRole(model.AllRoles...), h.GetRequest)
		requests.PUT("/:id/", middleware.RequireRole(model.RoleStaff), h.UpdateRequest)
		requests.DELETE("/:id/", middleware.RequireRole(model.RoleStaff), h.DeleteRequest)
		requests.PATCH("/:id/approve/", middleware.RequireRole(approverRoles...), h.ApproveRequest)
		requests.PATCH("/:id/reject/", middleware.RequireRole(approverRoles...), h.RejectRequest)
		requests.POST("/:id/submit-receipt/", middleware.RequireRole(model.RoleStaff), h.SubmitReceipt)
	}
}

// actorFromContext rebuilds the caller identity set by RequireRole.
func actorFromContext(c *gin.Context) (service.Actor, bool) {
	idVal, _ := c.Get("userID")
	emailVal, _ := c.Get("userEmail")
	roleVal, _ := c.Get("userRole")

	idStr, _ := idVal.(string)
	email, _ := emailVal.(string)
	role, _ := roleVal.(string)

	id, err := uuid.Parse(idStr)
	if err != nil || email == "" {
		return service.Actor{}, false
	}
	return service.Actor{ID: id, Email: email, Role: role}, true
}

// writeServiceError maps workflow sentinel errors onto status codes.
// Anything that is not a known sentinel is an internal failure.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, response.Error(err.Error()))
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotApprover):
		c.JSON(http.StatusForbidden, response.Error(err.Error()))
	case errors.Is(err, service.ErrNotPending),
		errors.Is(err, service.ErrAlreadyActed),
		errors.Is(err, service.ErrCannotDelete),
		errors.Is(err, service.ErrReceiptBlocked):
		c.JSON(http.StatusConflict, response.Error(err.Error()))
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrBadFileType):
		c.JSON(http.StatusBadRequest, response.Error(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(err.Error()))
	}
}

func readUpload(file *multipart.FileHeader) (*service.UploadedFile, error) {
	if file.Size > maxUploadBytes {
		return nil, errors.New("file exceeds the 10 MB limit")
	}
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxUploadBytes {
		return nil, errors.New("file exceeds the 10 MB limit")
	}
	return &service.UploadedFile{Name: file.Filename, Content: content}, nil
}

// ListRequests returns the caller's visible requests, paginated
// @Summary      List purchase requests
// @Description  Staff see their own requests, approvers their queue, finance everything
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Param        status  query     string  false  "Filter by status"
// @Success      200     {object}  pagination.Envelope
// @Router       /api/requests/ [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	params := pagination.Parse(c)
	results, total, err := h.requestService.List(c.Request.Context(), actor, c.Query("status"), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(err.Error()))
		return
	}

	c.JSON(http.StatusOK, pagination.NewEnvelope(c.Request.URL.Path, c.Request.URL.Query(), params, total, results))
}

// CreateRequest creates a purchase request from a multipart form
// @Summary      Create purchase request
// @Description  Multipart form: title, vendor, description, amount, items (JSON array), optional proforma file
// @Tags         requests
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Success      201  {object}  service.RequestResponse
// @Failure      400  {object}  response.ErrorBody
// @Router       /api/requests/ [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	in := service.CreateRequestInput{
		Title:       c.PostForm("title"),
		Vendor:      c.PostForm("vendor"),
		Description: c.PostForm("description"),
		Amount:      c.PostForm("amount"),
	}

	itemsJSON := c.PostForm("items")
	if itemsJSON == "" {
		c.JSON(http.StatusBadRequest, response.Error("items field is required"))
		return
	}
	if err := json.Unmarshal([]byte(itemsJSON), &in.Items); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("items must be a JSON array"))
		return
	}

	if file, err := c.FormFile("proforma"); err == nil {
		upload, readErr := readUpload(file)
		if readErr != nil {
			c.JSON(http.StatusBadRequest, response.Error(readErr.Error()))
			return
		}
		in.Proforma = upload
	}

	result, err := h.requestService.Create(c.Request.Context(), actor, in)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetRequest returns one request with items and approval history
// @Summary      Get purchase request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  service.RequestResponse
// @Failure      404  {object}  response.ErrorBody
// @Router       /api/requests/{id}/ [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	result, err := h.requestService.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UpdateRequest edits a pending request owned by the caller
// @Summary      Update purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Request ID"
// @Param        payload  body      service.UpdateRequestInput   true  "Fields to update"
// @Success      200      {object}  service.RequestResponse
// @Failure      409      {object}  response.ErrorBody
// @Router       /api/requests/{id}/ [put]
func (h *RequestHandler) UpdateRequest(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	var in service.UpdateRequestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("Invalid request payload"))
		return
	}

	result, err := h.requestService.Update(c.Request.Context(), actor, c.Param("id"), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type decisionBody struct {
	Comments string `json:"comments"`
}

// ApproveRequest records the caller's approval
// @Summary      Approve purchase request
// @Description  Appends the caller's approval; the request is APPROVED once both levels have approved
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string        true   "Request ID"
// @Param        payload  body      decisionBody  false  "Optional comments"
// @Success      200      {object}  service.RequestResponse
// @Failure      409      {object}  response.ErrorBody
// @Router       /api/requests/{id}/approve/ [patch]
func (h *RequestHandler) ApproveRequest(c *gin.Context) {
	h.decide(c, true)
}

// RejectRequest records the caller's rejection, finalizing the request
// @Summary      Reject purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string        true   "Request ID"
// @Param        payload  body      decisionBody  false  "Optional comments"
// @Success      200      {object}  service.RequestResponse
// @Failure      409      {object}  response.ErrorBody
// @Router       /api/requests/{id}/reject/ [patch]
func (h *RequestHandler) RejectRequest(c *gin.Context) {
	h.decide(c, false)
}

func (h *RequestHandler) decide(c *gin.Context, approved bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		// Empty body is fine — comments are optional
		body.Comments = ""
	}

	var result *service.RequestResponse
	var err error
	if approved {
		result, err = h.requestService.Approve(c.Request.Context(), actor, c.Param("id"), body.Comments)
	} else {
		result, err = h.requestService.Reject(c.Request.Context(), actor, c.Param("id"), body.Comments)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SubmitReceipt attaches a receipt to an approved request
// @Summary      Submit receipt
// @Description  Multipart upload; the backend validates the receipt against the request and flags discrepancies
// @Tags         requests
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  service.RequestResponse
// @Failure      409  {object}  response.ErrorBody
// @Router       /api/requests/{id}/submit-receipt/ [post]
func (h *RequestHandler) SubmitReceipt(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error("receipt file is required"))
		return
	}

	upload, err := readUpload(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(err.Error()))
		return
	}

	result, err := h.requestService.SubmitReceipt(c.Request.Context(), actor, c.Param("id"), *upload)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeleteRequest removes a pending, unacted-upon request
// @Summary      Delete purchase request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      204  "No Content"
// @Failure      409  {object}  response.ErrorBody
// @Router       /api/requests/{id}/ [delete]
func (h *RequestHandler) DeleteRequest(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error("Invalid session"))
		return
	}

	if err := h.requestService.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
