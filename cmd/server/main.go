package main

import (
	"context"
	"log"
	"strconv"

	"dentsim/config"
	"dentsim/controllers"
	"dentsim/db"
	"dentsim/routes"
	"dentsim/rules"
	"dentsim/services"
	"dentsim/utils"
	"dentsim/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load the configuration from the specified YAML file
	cfg, err := config.LoadConfig("./config/config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := rules.LoadFile(cfg.Assets.Rules)
	if err != nil {
		log.Fatalf("Failed to load scoring rules: %v", err)
	}
	log.Printf("Loaded %d scoring rules", store.Len())

	cases, err := utils.LoadPatientCases(cfg.Assets.Cases)
	if err != nil {
		log.Fatalf("Failed to load patient cases: %v", err)
	}
	log.Printf("Loaded %d patient cases", len(cases))

	ctx := context.Background()
	interpreter, err := services.NewGeminiInterpreter(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize interpreter: %v", err)
	}
	patient, err := services.NewGeminiPatient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize patient responder: %v", err)
	}
	validator := services.NewHFSafetyValidator(cfg)

	// Transcript storage is best-effort: without a database URI the
	// simulator still runs, it just keeps no history.
	if cfg.Database.URI != "" {
		if err := db.ConnectMongoDB(cfg.Database.URI); err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		log.Println("Connected to MongoDB")
		utils.SeedPatientCases(cases)
	} else {
		log.Println("No database URI configured; transcripts disabled")
	}

	scenarioService := services.NewScenarioService(store, interpreter, validator, patient, cases)
	controllers.InitScenarioController(scenarioService)
	websocket.InitChatHandler(scenarioService)

	// Set up the Gin router and configure routes
	router := setupRouter(cfg)
	port := strconv.Itoa(cfg.Server.Port)
	log.Printf("Server starting on port %s", port)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupRouter(cfg *config.Config) *gin.Engine {
	router := gin.Default()

	// Set trusted proxies (adjust as needed)
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	// Configure CORS for your frontend (e.g., localhost:5173 for Vite)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.OPTIONS("/*path", func(c *gin.Context) { c.Status(204) })

	api := router.Group("/")
	{
		routes.SetupScenarioRoutes(api)

		// WebSocket chat endpoint
		api.GET("/ws/chat", websocket.ChatHandler)
	}

	return router
}
