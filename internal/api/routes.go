package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/auth"
	"villaops_go_backend/internal/chatview"
	apperrors "villaops_go_backend/internal/errors"
	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/services"
	"villaops_go_backend/internal/stream"
	"villaops_go_backend/internal/utils/broker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v79"
)

func SetupRoutes(
	r *gin.Engine,
	runner *agent.Runner,
	conversationService services.ConversationServiceDB,
	quotaService *services.QuotaService,
	stripeService *services.StripeService,
	userService *services.UserService,
	messageBroker *broker.Broker,
) {
	authed := auth.AuthMiddleware(userService)

	api := r.Group("/api/v1")
	{
		api.POST("/chat", authed, chatHandler(runner, conversationService, quotaService, messageBroker))
		api.POST("/chat/conversations/:conversation_id/resume", authed, resumeHandler(runner, quotaService, messageBroker))
		api.GET("/chat/conversations", authed, listConversationsHandler(conversationService))
		api.GET("/chat/conversations/:conversation_id", authed, getConversationHandler(conversationService))
		api.DELETE("/chat/conversations/:conversation_id", authed, deleteConversationHandler(conversationService))

		api.GET("/billing/usage", authed, usageHandler(quotaService))
		api.POST("/billing/checkout", authed, checkoutHandler(stripeService))
		api.POST("/billing/webhook", stripeWebhookHandler(stripeService))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func currentUser(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		apperrors.HandleError(c, apperrors.New401Error())
		return nil, false
	}
	userModel, ok := user.(*models.User)
	if !ok {
		apperrors.HandleError(c, apperrors.New500Error(errors.New("invalid user type in context")))
		return nil, false
	}
	return userModel, true
}

// chatHandler starts a turn and streams its events. Quota and ownership
// failures are answered with plain non-2xx bodies before any event reaches
// the wire; once streaming begins, faults arrive as error events instead.
func chatHandler(runner *agent.Runner, conversationService services.ConversationServiceDB, quotaService *services.QuotaService, messageBroker *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Message        string     `json:"message" binding:"required"`
			ConversationID *uuid.UUID `json:"conversation_id"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		user, ok := currentUser(c)
		if !ok {
			return
		}

		if request.ConversationID != nil {
			if _, err := conversationService.GetConversation(*request.ConversationID, user.ID); err != nil {
				handleConversationError(c, err)
				return
			}
		}

		if err := quotaService.Admit(user.ID); err != nil {
			handleQuotaError(c, quotaService, user.ID, err)
			return
		}

		emitter := stream.NewSSEEmitter(c)
		err := runner.StartTurn(c.Request.Context(), user.ID, request.ConversationID, request.Message, emitter)
		if err != nil && !emitter.Started() {
			handleTurnError(c, err)
			return
		}
		if err != nil {
			_ = emitter.Emit(stream.Error(err.Error()))
			return
		}

		publishUsage(quotaService, messageBroker, user.ID)
	}
}

func resumeHandler(runner *agent.Runner, quotaService *services.QuotaService, messageBroker *broker.Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID, err := uuid.Parse(c.Param("conversation_id"))
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Invalid conversation id"))
			return
		}

		var request struct {
			Action string `json:"action" binding:"required,oneof=approve cancel"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		user, ok := currentUser(c)
		if !ok {
			return
		}

		emitter := stream.NewSSEEmitter(c)
		err = runner.ResumeTurn(c.Request.Context(), user.ID, conversationID, agent.Decision(request.Action), emitter)
		if err != nil && !emitter.Started() {
			handleTurnError(c, err)
			return
		}
		if err != nil {
			_ = emitter.Emit(stream.Error(err.Error()))
			return
		}

		publishUsage(quotaService, messageBroker, user.ID)
	}
}

func listConversationsHandler(conversationService services.ConversationServiceDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		conversations, err := conversationService.ListConversations(user.ID, limit, offset)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		results := make([]gin.H, 0, len(conversations))
		for _, conv := range conversations {
			count, err := conversationService.CountMessages(conv.ID)
			if err != nil {
				apperrors.HandleError(c, apperrors.New500Error(err))
				return
			}
			results = append(results, gin.H{
				"id":            conv.ID,
				"title":         conv.Title,
				"created_at":    conv.CreatedAt,
				"updated_at":    conv.UpdatedAt,
				"message_count": count,
			})
		}

		c.JSON(http.StatusOK, results)
	}
}

// getConversationHandler returns the full log in reconstructed form: tool
// rows folded into their assistant message and confirmation state derived
// from history alone.
func getConversationHandler(conversationService services.ConversationServiceDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		conversationID, err := uuid.Parse(c.Param("conversation_id"))
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Invalid conversation id"))
			return
		}

		conv, err := conversationService.GetConversationWithMessages(conversationID, user.ID)
		if err != nil {
			handleConversationError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":                   conv.ID,
			"title":                conv.Title,
			"created_at":           conv.CreatedAt,
			"updated_at":           conv.UpdatedAt,
			"messages":             chatview.Build(conv.Messages),
			"pending_confirmation": chatview.HasPendingConfirmation(conv.Messages),
		})
	}
}

func deleteConversationHandler(conversationService services.ConversationServiceDB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		conversationID, err := uuid.Parse(c.Param("conversation_id"))
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Invalid conversation id"))
			return
		}

		if err := conversationService.DeleteConversation(conversationID, user.ID); err != nil {
			handleConversationError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func usageHandler(quotaService *services.QuotaService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		usage, err := quotaService.Usage(user.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}
		c.JSON(http.StatusOK, usage)
	}
}

func checkoutHandler(stripeService *services.StripeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Plan string `json:"plan" binding:"required,oneof=pro business"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error(err.Error()))
			return
		}

		user, ok := currentUser(c)
		if !ok {
			return
		}

		session, err := stripeService.CreateCheckoutSession(user.ID, request.Plan)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": session.ID,
			"url":        session.URL,
		})
	}
}

func stripeWebhookHandler(stripeService *services.StripeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const MaxBodyBytes = int64(65536)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Error reading request body"))
			return
		}

		signatureHeader := c.GetHeader("Stripe-Signature")
		event, err := stripeService.HandleWebhook(payload, signatureHeader)
		if err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Failed to verify webhook signature"))
			return
		}

		switch event.Type {
		case "checkout.session.completed":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
				apperrors.HandleError(c, apperrors.New400Error("Failed to parse checkout session"))
				return
			}
			if err := stripeService.ApplyCheckoutCompleted(&session); err != nil {
				apperrors.HandleError(c, apperrors.New500Error(err))
				return
			}
		case "customer.subscription.updated":
			var subscription stripe.Subscription
			if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
				apperrors.HandleError(c, apperrors.New400Error("Failed to parse subscription"))
				return
			}
			if err := stripeService.ApplySubscriptionUpdated(&subscription); err != nil {
				apperrors.HandleError(c, apperrors.New500Error(err))
				return
			}
		case "customer.subscription.deleted":
			var subscription stripe.Subscription
			if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
				apperrors.HandleError(c, apperrors.New400Error("Failed to parse subscription"))
				return
			}
			if err := stripeService.ApplySubscriptionDeleted(&subscription); err != nil {
				apperrors.HandleError(c, apperrors.New500Error(err))
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func handleConversationError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrConversationNotFound) {
		apperrors.HandleError(c, apperrors.New404Error("Conversation not found"))
		return
	}
	apperrors.HandleError(c, apperrors.New500Error(err))
}

func handleTurnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		apperrors.HandleError(c, apperrors.New404Error("Conversation not found"))
	case errors.Is(err, agent.ErrTurnInProgress):
		apperrors.HandleError(c, apperrors.New409Error(err.Error()))
	case errors.Is(err, agent.ErrNoPendingInterrupt):
		apperrors.HandleError(c, apperrors.New409Error(err.Error()))
	default:
		apperrors.HandleError(c, apperrors.New500Error(err))
	}
}

func handleQuotaError(c *gin.Context, quotaService *services.QuotaService, userID uuid.UUID, err error) {
	if !errors.Is(err, services.ErrQuotaExceeded) {
		apperrors.HandleError(c, apperrors.New500Error(err))
		return
	}
	details := map[string]any{"upgrade_url": "/api/v1/billing/checkout"}
	if usage, usageErr := quotaService.Usage(userID); usageErr == nil {
		details["limit"] = usage.Limit
		details["current"] = usage.Used
		details["plan"] = usage.Plan
	}
	apperrors.HandleError(c, apperrors.New402Error(err.Error(), details))
}

func publishUsage(quotaService *services.QuotaService, messageBroker *broker.Broker, userID uuid.UUID) {
	if messageBroker == nil {
		return
	}
	usage, err := quotaService.Usage(userID)
	if err != nil {
		return
	}
	messageBroker.Publish("usage:"+userID.String(), gin.H{
		"type":  "usage_update",
		"usage": usage,
	})
}
