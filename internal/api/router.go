package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/api/handlers"
	"github.com/Yonatanhaile/tigray-marketplace/internal/api/middleware"
	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
)

// Services bundles everything the HTTP surface depends on. main wires
// it once so the API and the websocket gateway share instances.
type Services struct {
	User    services.IUserService
	Order   services.IOrderService
	Message services.IMessageService
	Dispute services.IDisputeService
	Invoice services.IInvoiceService
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, svcs Services, gateway *realtime.Gateway, notifier *realtime.Notifier) *gin.Engine {
	r := gin.Default()

	// Apply global middleware first (order matters)
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, svcs.User)
	orderHandler := handlers.NewOrderHandler(svcs.Order, svcs.Invoice, notifier)
	messageHandler := handlers.NewMessageHandler(svcs.Message, notifier)
	disputeHandler := handlers.NewDisputeHandler(svcs.Dispute, svcs.Order, notifier)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Public routes
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)

		// The websocket endpoint authenticates itself from the token
		// query parameter before upgrading.
		v1.GET("/ws", gateway.HandleConnection)

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/orders", orderHandler.CreateOrder)
			authRequired.GET("/orders/my-orders", orderHandler.ListMyOrders)
			authRequired.GET("/orders/:id", orderHandler.GetOrder)
			authRequired.PATCH("/orders/:id", orderHandler.UpdateOrder)
			authRequired.POST("/orders/:id/invoice", orderHandler.RequestInvoice)
			authRequired.GET("/orders/:id/invoice", orderHandler.GetInvoice)

			authRequired.POST("/messages", messageHandler.SendMessage)
			authRequired.GET("/messages/order/:id", messageHandler.ListMessages)
			authRequired.GET("/messages/unread-count", messageHandler.UnreadCount)
			authRequired.POST("/messages/:id/read", messageHandler.MarkRead)

			authRequired.POST("/disputes", disputeHandler.FileDispute)
			authRequired.GET("/disputes/my-disputes", disputeHandler.ListMyDisputes)
			authRequired.GET("/disputes/:id", disputeHandler.GetDispute)
			authRequired.POST("/disputes/:id/comments", disputeHandler.AddComment)
		}

		// Admin routes
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.PATCH("/disputes/:id", disputeHandler.ResolveDispute)
		}
	}

	return r
}
