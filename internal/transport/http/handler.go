package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/carebridge/wallet-engine/internal/errs"
	"github.com/carebridge/wallet-engine/internal/service"
)

// Services bundles what the routing layer needs.
type Services struct {
	Wallets     *service.WalletService
	Topups      *service.TopupService
	Withdrawals *service.WithdrawalService
	Escrow      *service.EscrowService
}

func RegisterHandlers(r *gin.Engine, svcs Services) {
	v1 := r.Group("/v1")
	{
		v1.POST("/wallet/topup", initiateTopupHandler(svcs.Topups))
		v1.POST("/wallet/topup/webhook", webhookHandler(svcs.Topups))
		v1.POST("/wallet/withdraw", createWithdrawalHandler(svcs.Withdrawals))
		v1.POST("/wallet/withdrawals/:id/cancel", cancelWithdrawalHandler(svcs.Withdrawals))
		v1.GET("/wallets/:id/balance", balanceHandler(svcs.Wallets))
		v1.GET("/wallets/:id/statement", statementHandler(svcs.Wallets))

		admin := v1.Group("/admin")
		{
			admin.POST("/withdrawals/:id/review", withdrawalTransitionHandler(svcs.Withdrawals.Review))
			admin.POST("/withdrawals/:id/approve", withdrawalTransitionHandler(svcs.Withdrawals.Approve))
			admin.POST("/withdrawals/:id/reject", withdrawalTransitionHandler(svcs.Withdrawals.Reject))
			admin.POST("/withdrawals/:id/paid", withdrawalTransitionHandler(svcs.Withdrawals.MarkPaid))
			admin.POST("/disputes/:jobID/settle", settleDisputeHandler(svcs.Escrow))
		}
	}
}

// writeError maps the typed error taxonomy onto HTTP statuses. Conflicts are
// retryable by the client; the 422s are not.
func writeError(c *gin.Context, err error) {
	var (
		notFound   *errs.NotFoundError
		insuf      *errs.InsufficientBalanceError
		insufEsc   *errs.InsufficientEscrowBalanceError
		conflict   *errs.ConcurrentModificationError
		transition *errs.InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.As(err, &insuf), errors.As(err, &insufEsc), errors.As(err, &transition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type topupReq struct {
	UserID   uint64 `json:"user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Provider string `json:"provider" binding:"required"`
}

func initiateTopupHandler(svc *service.TopupService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req topupReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		intent, err := svc.Initiate(c, req.UserID, amt, req.Provider)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"intent_id":         intent.ID,
			"provider":          intent.ProviderName,
			"provider_order_id": intent.ProviderOrderID,
		})
	}
}

type webhookReq struct {
	Event         string `json:"event" binding:"required"`
	ReferenceID   string `json:"reference_id" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"required"`
	Amount        string `json:"amount"`
}

// webhookHandler acknowledges replays and permanent failures with 2xx so the
// provider stops redelivering; only transient errors earn a 5xx retry.
func webhookHandler(svc *service.TopupService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req webhookReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt := decimal.Zero
		if req.Amount != "" {
			var err error
			amt, err = decimal.NewFromString(req.Amount)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
				return
			}
		}
		result, err := svc.HandleWebhook(c, service.WebhookEvent{
			Event:         req.Event,
			ReferenceID:   req.ReferenceID,
			TransactionID: req.TransactionID,
			Amount:        amt,
		})
		if err != nil {
			if errs.IsRetryable(err) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   result.Intent.Status,
			"replayed": result.Replayed,
		})
	}
}

type withdrawReq struct {
	UserID        uint64 `json:"user_id" binding:"required"`
	BankAccountID uint64 `json:"bank_account_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
}

func createWithdrawalHandler(svc *service.WithdrawalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req withdrawReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		r, err := svc.Create(c, req.UserID, req.BankAccountID, amt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"withdrawal_id": r.ID, "status": r.Status})
	}
}

type cancelReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

func cancelWithdrawalHandler(svc *service.WithdrawalService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		if err := svc.Cancel(c, id, req.UserID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

func withdrawalTransitionHandler(fn func(ctx context.Context, id uint64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		if err := fn(c, id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		bal, err := svc.GetBalance(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"available": bal.Available, "held": bal.Held})
	}
}

func statementHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		entries, err := svc.GetStatement(c, id, limit, since)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

type settleReq struct {
	RefundAmount   string `json:"refund_amount" binding:"required"`
	PayoutAmount   string `json:"payout_amount" binding:"required"`
	Resolution     string `json:"resolution"`
	IdempotencyKey string `json:"idempotency_key"`
}

func settleDisputeHandler(svc *service.EscrowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req settleReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		jobID, _ := strconv.ParseUint(c.Param("jobID"), 10, 64)
		refund, err := decimal.NewFromString(req.RefundAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refund_amount"})
			return
		}
		payout, err := decimal.NewFromString(req.PayoutAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payout_amount"})
			return
		}
		result, err := svc.SettleDispute(c, jobID, refund, payout, req.Resolution, req.IdempotencyKey)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"refund":   result.RefundAmount,
			"payout":   result.PayoutAmount,
			"replayed": result.Replayed,
		})
	}
}
