package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"villaops_go_backend/cmd/api/config"
	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/api"
	"villaops_go_backend/internal/auth"
	"villaops_go_backend/internal/database"
	"villaops_go_backend/internal/llm"
	"villaops_go_backend/internal/services"
	"villaops_go_backend/internal/tools"
	"villaops_go_backend/internal/utils/broker"
	"villaops_go_backend/internal/wsocket"

	"github.com/gorilla/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	genaiAPIKey := os.Getenv("GOOGLE_AI_STUDIO_API_KEY")
	if genaiAPIKey == "" {
		log.Fatal("GOOGLE_AI_STUDIO_API_KEY is not set in the environment")
	}

	mcpServerURL := os.Getenv("MCP_SERVER_URL")
	if mcpServerURL == "" {
		log.Fatal("MCP_SERVER_URL environment variable is not set")
	}

	modelName := os.Getenv("MODEL_NAME")
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	ctx := context.Background()

	database.InitDB()

	cfg := config.NewConfig()

	// External service clients
	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	stripeService := services.NewStripeService(database.DB, stripeSecretKey, stripeWebhookSecret)

	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(genaiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}
	defer genaiClient.Close()

	// Internal services
	userService := services.NewUserService(database.DB)
	conversationService := services.NewConversationServiceDB(database.DB)
	quotaService := services.NewQuotaService(database.DB)

	modelClient := llm.NewGenAIModelClient(genaiClient, modelName)
	dispatcher := tools.NewHTTPDispatcher(mcpServerURL, cfg.ToolTimeout)
	messageBroker := broker.NewBroker()

	runner := agent.NewRunner(conversationService, quotaService, modelClient, dispatcher, messageBroker, cfg.TurnTTL)

	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173"
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}

	wsHandler := wsocket.NewHandler(upgrader, messageBroker, cfg.PingInterval)

	api.SetupRoutes(r, runner, conversationService, quotaService, stripeService, userService, messageBroker)
	auth.SetupRoutes(r, userService)

	r.GET("/ws", auth.AuthMiddleware(userService), func(c *gin.Context) {
		user, _ := c.Get("user")
		wsHandler.HandleWebSocket(c.Writer, c.Request, user)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
