package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

// GET /api/trial-allowance
func (s *Server) getTrialAllowance(c *gin.Context) {
	shopID := shopIDFrom(c, c.Query("shop"))
	if shopID == "" {
		AbortWithError(c, newValidationError("shop", "missing_shop_id", "shop id is required"))
		return
	}

	view, err := s.processing.TrialAllowance(c.Request.Context(), shopID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type settingsRequest struct {
	IsActive     bool                     `json:"isActive"`
	ActiveConfig *shopdomain.ActiveConfig `json:"activeConfig,omitempty"`
}

type settingsResponse struct {
	IsActive bool                      `json:"isActive"`
	Status   *shopdomain.ProcessStatus `json:"status"`
}

// PUT /api/settings
func (s *Server) putSettings(c *gin.Context) {
	shopID := shopIDFrom(c, "")
	if shopID == "" {
		AbortWithError(c, newValidationError("shop", "missing_shop_id", "shop id is required"))
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if !req.IsActive {
		status, err := s.processing.DisableProcessing(c.Request.Context(), shopID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, settingsResponse{IsActive: false, Status: status})
		return
	}

	if req.ActiveConfig == nil {
		AbortWithError(c, newValidationError("activeConfig", "missing_active_config", "activeConfig is required to enable processing"))
		return
	}
	cfg := normalizeActiveConfig(*req.ActiveConfig)
	if err := validateActiveConfig(cfg); err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.processing.EnableProcessing(c.Request.Context(), shopID, cfg)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse{IsActive: true, Status: status})
}

func normalizeActiveConfig(cfg shopdomain.ActiveConfig) shopdomain.ActiveConfig {
	if cfg.Selection == "" {
		cfg.Selection = shopdomain.SelectionAll
	}
	return cfg
}

func validateActiveConfig(cfg shopdomain.ActiveConfig) error {
	switch cfg.Selection {
	case shopdomain.SelectionAll:
	case shopdomain.SelectionProducts:
		if len(cfg.ProductIDs) == 0 {
			return newValidationError("productIds", "missing_product_ids", "product selection requires productIds")
		}
	case shopdomain.SelectionCollections:
		if len(cfg.CollectionIDs) == 0 {
			return newValidationError("collectionIds", "missing_collection_ids", "collection selection requires collectionIds")
		}
	default:
		return newValidationError("selection", "invalid_selection", "selection must be all, products or collections")
	}

	if cfg.Watermark.OpacityPercent < 0 || cfg.Watermark.OpacityPercent > 100 {
		return newValidationError("watermark.opacityPercent", "invalid_opacity", "opacity must be between 0 and 100")
	}
	if cfg.CompressionQuality < 0 || cfg.CompressionQuality > 100 {
		return newValidationError("compressionQuality", "invalid_quality", "compression quality must be between 0 and 100")
	}
	return nil
}
