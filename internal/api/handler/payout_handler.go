package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/jobpay/internal/api/dto"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/payout"
	"github.com/gin-gonic/gin"
)

// PayoutHandler handles a provider's payout destinations
type PayoutHandler struct {
	logger  *slog.Logger
	payouts *payout.Router
}

// NewPayoutHandler creates a new PayoutHandler instance
func NewPayoutHandler(deps *Dependencies) *PayoutHandler {
	return &PayoutHandler{
		logger:  deps.Logger,
		payouts: deps.Payouts,
	}
}

// AddMethod handles POST /api/v1/providers/:provider_id/payout-methods
func (h *PayoutHandler) AddMethod(c *gin.Context) {
	providerID, ok := h.provider(c)
	if !ok {
		return
	}

	var req dto.AddPayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	method, err := h.payouts.AddMethod(c.Request.Context(), providerID, payout.MethodInput{
		MethodType:    req.MethodType,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Phone:         req.Phone,
		IsDefault:     req.IsDefault,
	})
	if err != nil {
		respondError(c, h.logger, "add_payout_method", err)
		return
	}

	c.JSON(http.StatusCreated, toPayoutMethodDTO(method))
}

// ListMethods handles GET /api/v1/providers/:provider_id/payout-methods
func (h *PayoutHandler) ListMethods(c *gin.Context) {
	providerID, ok := h.provider(c)
	if !ok {
		return
	}

	methods, err := h.payouts.ListMethods(c.Request.Context(), providerID)
	if err != nil {
		respondError(c, h.logger, "list_payout_methods", err)
		return
	}

	resp := dto.ListPayoutMethodsResponse{Methods: make([]dto.PayoutMethodDTO, len(methods))}
	for i := range methods {
		resp.Methods[i] = toPayoutMethodDTO(&methods[i])
	}

	c.JSON(http.StatusOK, resp)
}

// SetDefault handles POST /api/v1/providers/:provider_id/payout-methods/:method_id/default
func (h *PayoutHandler) SetDefault(c *gin.Context) {
	providerID, ok := h.provider(c)
	if !ok {
		return
	}

	method, err := h.payouts.SetDefault(c.Request.Context(), providerID, c.Param("method_id"))
	if err != nil {
		respondError(c, h.logger, "set_default_payout_method", err)
		return
	}

	c.JSON(http.StatusOK, toPayoutMethodDTO(method))
}

// EnsureSubaccount handles POST /api/v1/providers/:provider_id/payout-methods/:method_id/subaccount
func (h *PayoutHandler) EnsureSubaccount(c *gin.Context) {
	providerID, ok := h.provider(c)
	if !ok {
		return
	}

	method, err := h.payouts.EnsureSubaccount(c.Request.Context(), providerID, c.Param("method_id"))
	if err != nil {
		respondError(c, h.logger, "ensure_subaccount", err)
		return
	}

	c.JSON(http.StatusOK, toPayoutMethodDTO(method))
}

// provider checks that the caller is the provider named in the path.
func (h *PayoutHandler) provider(c *gin.Context) (string, bool) {
	actor, ok := actorID(c)
	if !ok {
		return "", false
	}

	providerID := c.Param("provider_id")
	if providerID != actor {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "caller may only manage their own payout methods",
			"code":  "not_provider",
		})
		return "", false
	}
	return providerID, true
}

func toPayoutMethodDTO(m *domain.PayoutMethod) dto.PayoutMethodDTO {
	out := dto.PayoutMethodDTO{
		MethodID:      m.ID,
		ProviderID:    m.ProviderID,
		MethodType:    m.MethodType,
		AccountNumber: maskAccount(m.AccountNumber),
		AccountName:   m.AccountName,
		IsDefault:     m.IsDefault,
		HasSubaccount: m.HasSubaccount(),
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
	if m.BankCode != nil {
		out.BankCode = *m.BankCode
	}
	if m.Phone != nil {
		out.Phone = maskAccount(*m.Phone)
	}
	return out
}

// maskAccount keeps the last four characters.
func maskAccount(s string) string {
	if len(s) <= 4 {
		return s
	}
	masked := make([]byte, len(s))
	for i := range s {
		if i < len(s)-4 {
			masked[i] = '*'
		} else {
			masked[i] = s[i]
		}
	}
	return string(masked)
}
