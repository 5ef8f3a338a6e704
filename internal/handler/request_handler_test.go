package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"procurement/internal/database"
	"procurement/internal/purchaseorder"
	"procurement/internal/receipt"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/storage"
)

var handlerDBSeq int

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlerDBSeq++
	dsn := fmt.Sprintf("file:request_handler_%d?mode=memory&cache=shared", handlerDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	userService := service.NewUserService(repository.NewUserRepository(db), log)
	requestService := service.NewRequestService(
		repository.NewRequestRepository(db),
		repository.NewAuditRepository(db),
		repository.NewTransactionManager(db),
		storage.NewLocalFileStore(t.TempDir(), "/media", log),
		purchaseorder.NewGenerator("Test Co", log),
		receipt.NewValidator(log),
		nil,
		log,
	)

	router := gin.New()
	NewUserHandler(userService).RegisterRoutes(router.Group(""))
	NewRequestHandler(requestService).RegisterRoutes(router.Group(""))
	return router
}

func registerAndLogin(t *testing.T, router *gin.Engine, email, role string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"email":     email,
		"password":  "s3cret-pass",
		"full_name": "Test User",
		"role":      role,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/register/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body, _ = json.Marshal(map[string]string{"email": email, "password": "s3cret-pass"})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/accounts/login/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var auth struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &auth))
	require.NotEmpty(t, auth.AccessToken)
	return auth.AccessToken
}

func multipartCreate(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doJSON(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func createRequest(t *testing.T, router *gin.Engine, token string) map[string]interface{} {
	t.Helper()
	buf, contentType := multipartCreate(t, map[string]string{
		"title":       "Office laptops",
		"vendor":      "Acme Supplies",
		"description": "Replacement hardware",
		"amount":      "25.00",
		"items":       `[{"name":"Laptop","qty":2,"unit_price":"10.00"},{"name":"Mouse","qty":1,"unit_price":"5.00"}]`,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/requests/", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	return created
}

func TestCreateAndListRequests(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")

	created := createRequest(t, router, staffToken)
	assert.Equal(t, "25.00", created["amount"])
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "staff@corp.test", created["created_by"])
	items := created["items_display"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "Laptop", first["name"])
	assert.Equal(t, "20.00", first["total_price"])

	// List returns the paginated envelope with the new request on top
	w := doJSON(router, http.MethodGet, "/api/requests/", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Count    int64                    `json:"count"`
		Next     *string                  `json:"next"`
		Previous *string                  `json:"previous"`
		Results  []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.EqualValues(t, 1, envelope.Count)
	assert.Nil(t, envelope.Next)
	require.Len(t, envelope.Results, 1)
	assert.Equal(t, created["id"], envelope.Results[0]["id"])
}

func TestCreateRequestErrors(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")

	// Missing items field
	buf, contentType := multipartCreate(t, map[string]string{
		"title":  "No items",
		"vendor": "Acme",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/requests/", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+staffToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "detail")

	// Declared amount disagrees with item totals
	buf, contentType = multipartCreate(t, map[string]string{
		"title":  "Mismatch",
		"vendor": "Acme",
		"amount": "99.00",
		"items":  `[{"name":"Laptop","qty":2,"unit_price":"10.00"}]`,
	})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/requests/", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+staffToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "does not match item totals")
}

func TestRoleGates(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")
	lvl1Token := registerAndLogin(t, router, "lvl1@corp.test", "approvelevel1")

	created := createRequest(t, router, staffToken)
	id := created["id"].(string)

	// Unauthenticated
	w := doJSON(router, http.MethodGet, "/api/requests/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Approvers cannot create
	buf, contentType := multipartCreate(t, map[string]string{"title": "x", "vendor": "y", "items": "[]"})
	req := httptest.NewRequest(http.MethodPost, "/api/requests/", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+lvl1Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Staff cannot approve
	w = doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", staffToken, []byte(`{}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")
	lvl1Token := registerAndLogin(t, router, "lvl1@corp.test", "approvelevel1")
	lvl2Token := registerAndLogin(t, router, "lvl2@corp.test", "approvelevel2")

	created := createRequest(t, router, staffToken)
	id := created["id"].(string)

	w := doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", lvl1Token, []byte(`{"comments":"ok"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var afterL1 map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &afterL1))
	assert.Equal(t, "PENDING", afterL1["status"])
	approvals := afterL1["approvals"].([]interface{})
	require.Len(t, approvals, 1)
	record := approvals[0].(map[string]interface{})
	assert.Equal(t, "lvl1@corp.test", record["approver"])
	assert.Equal(t, "ok", record["comment"])

	// Acting twice conflicts
	w = doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", lvl1Token, []byte(`{}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", lvl2Token, []byte(`{}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var afterL2 map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &afterL2))
	assert.Equal(t, "APPROVED", afterL2["status"])
	assert.NotNil(t, afterL2["purchase_order"])
	assert.Equal(t, "lvl2@corp.test", afterL2["last_approved_by"])

	// Delete after approval is blocked
	w = doJSON(router, http.MethodDelete, "/api/requests/"+id+"/", staffToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSubmitReceiptOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")
	lvl1Token := registerAndLogin(t, router, "lvl1@corp.test", "approvelevel1")
	lvl2Token := registerAndLogin(t, router, "lvl2@corp.test", "approvelevel2")

	created := createRequest(t, router, staffToken)
	id := created["id"].(string)

	doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", lvl1Token, []byte(`{}`))
	doJSON(router, http.MethodPatch, "/api/requests/"+id+"/approve/", lvl2Token, []byte(`{}`))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("receipt", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/requests/"+id+"/submit-receipt/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+staffToken)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotNil(t, result["receipt"])
	validation := result["receipt_validation"].(map[string]interface{})
	assert.Equal(t, true, validation["is_valid"])

	// Missing file
	w = doJSON(router, http.MethodPost, "/api/requests/"+id+"/submit-receipt/", staffToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "receipt file is required")
}

func TestDeletePendingRequest(t *testing.T) {
	router := newTestRouter(t)
	staffToken := registerAndLogin(t, router, "staff@corp.test", "staff")

	created := createRequest(t, router, staffToken)
	id := created["id"].(string)

	w := doJSON(router, http.MethodDelete, "/api/requests/"+id+"/", staffToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodGet, "/api/requests/"+id+"/", staffToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "detail")

	// Non-uuid ids behave like missing requests
	w = doJSON(router, http.MethodGet, "/api/requests/not-a-uuid/", staffToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", service.ErrRequestNotFound, http.StatusNotFound},
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"not approver", service.ErrNotApprover, http.StatusForbidden},
		{"not pending", service.ErrNotPending, http.StatusConflict},
		{"already acted", service.ErrAlreadyActed, http.StatusConflict},
		{"validation", fmt.Errorf("%w: qty must be positive", service.ErrValidation), http.StatusBadRequest},
		{"bad file type", service.ErrBadFileType, http.StatusBadRequest},
		{"internal failure", fmt.Errorf("failed to record approval: %w", errors.New("disk full")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeServiceError(c, tt.err)

			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), "detail")
		})
	}
}
