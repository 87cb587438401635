package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brandseal/brandseal/internal/ledger"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

type registerShopRequest struct {
	ShopID      string `json:"shopId"`
	ShopDomain  string `json:"shopDomain"`
	Email       string `json:"email"`
	AccessToken string `json:"accessToken"`
}

// POST /api/shops
//
// Registers a shop on install: billing and settings rows plus a best-effort
// identify against the usage ledger. A ledger outage never blocks install;
// the token is picked up on the next identify.
func (s *Server) registerShop(c *gin.Context) {
	var req registerShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req.ShopID = strings.TrimSpace(req.ShopID)
	req.ShopDomain = strings.TrimSpace(req.ShopDomain)
	if req.ShopID == "" {
		AbortWithError(c, newValidationError("shopId", "missing_shop_id", "shop id is required"))
		return
	}
	if req.ShopDomain == "" {
		AbortWithError(c, newValidationError("shopDomain", "missing_shop_domain", "shop domain is required"))
		return
	}

	billing := &shopdomain.ShopBillingRecord{
		ShopID:      req.ShopID,
		ShopDomain:  req.ShopDomain,
		Email:       strings.TrimSpace(req.Email),
		AccessToken: req.AccessToken,
	}
	settings := &shopdomain.ShopSettings{
		ShopID: req.ShopID,
	}
	if err := s.shops.CreateShop(c.Request.Context(), billing, settings); err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.ledger.Identify(c.Request.Context(), ledger.IdentifyRequest{
		ShopID:      req.ShopID,
		ShopDomain:  req.ShopDomain,
		Email:       billing.Email,
		AccessToken: req.AccessToken,
	})
	switch {
	case err == nil:
		if err := s.shops.SetLedgerToken(c.Request.Context(), req.ShopID, token); err != nil {
			s.log.Warn("could not store ledger token",
				zap.String("shop_id", req.ShopID), zap.Error(err))
		}
	case errors.Is(err, ledger.ErrLedgerDisabled):
	default:
		s.log.Warn("ledger identify failed",
			zap.String("shop_id", req.ShopID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"shopId": req.ShopID,
		"status": "registered",
	})
}
