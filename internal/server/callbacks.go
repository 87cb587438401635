package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	processingdomain "github.com/brandseal/brandseal/internal/processing/domain"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

const usageSecretHeader = "X-Usage-Secret"

type bulkOperationCallbackRequest struct {
	ShopID      string `json:"shopId"`
	OperationID string `json:"admin_graphql_api_id"`
	Status      string `json:"status"`
}

// POST /api/callbacks/bulk-operation
//
// Completion webhooks are acknowledged whenever the signal cannot change
// anything anymore: unknown shop, unknown operation, stale state. Only
// transient failures bounce, so the platform redelivers.
func (s *Server) bulkOperationCallback(c *gin.Context) {
	var req bulkOperationCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	shopID := shopIDFrom(c, req.ShopID)
	if shopID == "" || strings.TrimSpace(req.OperationID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.processing.ReconcileBulkOperation(c.Request.Context(), shopID, req.OperationID)
	if err != nil {
		if errors.Is(err, shopdomain.ErrShopNotFound) || errors.Is(err, processingdomain.ErrUnknownOperation) {
			s.log.Info("completion webhook for unknown target acknowledged",
				zap.String("shop_id", shopID),
				zap.String("operation_id", req.OperationID),
			)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type removalCallbackRequest struct {
	ShopID      string `json:"shopId"`
	OperationID string `json:"operationId"`
	Success     bool   `json:"success"`
}

// POST /api/callbacks/removal
func (s *Server) removalCallback(c *gin.Context) {
	var req removalCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	shopID := shopIDFrom(c, req.ShopID)
	if shopID == "" || strings.TrimSpace(req.OperationID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.processing.HandleRemovalCompleted(c.Request.Context(), processingdomain.RemovalCompletedEvent{
		ShopID:      shopID,
		OperationID: strings.TrimSpace(req.OperationID),
		Success:     req.Success,
	})
	if err != nil {
		if errors.Is(err, shopdomain.ErrShopNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type usageCallbackRequest struct {
	ShopID string `json:"shopId"`
	Count  int64  `json:"count"`
}

// POST /api/callbacks/usage
func (s *Server) usageCallback(c *gin.Context) {
	secret := s.cfg.UsageCallbackSecret
	provided := strings.TrimSpace(c.GetHeader(usageSecretHeader))
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usageCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	shopID := shopIDFrom(c, req.ShopID)
	if shopID == "" {
		AbortWithError(c, newValidationError("shopId", "missing_shop_id", "shop id is required"))
		return
	}
	if req.Count <= 0 {
		AbortWithError(c, newValidationError("count", "invalid_count", "count must be positive"))
		return
	}

	if err := s.processing.RecordManualUsage(c.Request.Context(), shopID, req.Count); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
