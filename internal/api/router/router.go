package router

import (
	"net/http"

	"github.com/cuongbtq/jobpay/internal/api/handler"
	"github.com/cuongbtq/jobpay/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const serviceName = "jobpay-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	jobHandler := handler.NewJobHandler(deps)
	paymentHandler := handler.NewPaymentHandler(deps)
	payoutHandler := handler.NewPayoutHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// Quote negotiation
			jobs.POST("/:job_id/quote", jobHandler.SubmitQuote)
			jobs.POST("/:job_id/quote/response", jobHandler.RespondToQuote)

			// Handshake codes
			jobs.POST("/:job_id/codes/start", jobHandler.IssueStartCode)
			jobs.POST("/:job_id/codes/end", jobHandler.IssueEndCode)
			jobs.POST("/:job_id/verify-start", jobHandler.VerifyStart)
			jobs.POST("/:job_id/verify-end", jobHandler.VerifyEnd)

			jobs.POST("/:job_id/payment", jobHandler.SubmitPayment)
		}

		v1.POST("/payments/verify", RateLimitMiddleware(limiter, "verify", deps.Logger), paymentHandler.VerifyPayment)
		v1.POST("/webhooks/gateway", RateLimitMiddleware(limiter, "webhook", deps.Logger), paymentHandler.GatewayWebhook)

		methods := v1.Group("/providers/:provider_id/payout-methods")
		{
			methods.POST("", payoutHandler.AddMethod)
			methods.GET("", payoutHandler.ListMethods)
			methods.POST("/:method_id/default", payoutHandler.SetDefault)
			methods.POST("/:method_id/subaccount", payoutHandler.EnsureSubaccount)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Database != nil {
			if err := deps.Database.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": serviceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
