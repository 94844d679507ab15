package routes

import (
	"dentsim/controllers"

	"github.com/gin-gonic/gin"
)

// SetupScenarioRoutes sets up the encounter simulation routes
func SetupScenarioRoutes(router *gin.RouterGroup) {
	scenario := router.Group("/scenario")
	{
		scenario.POST("/create", controllers.CreateScenario)
		scenario.POST("/turn", controllers.SendTurn)
		scenario.GET("/:id/state", controllers.GetScenarioState)
		scenario.GET("/:id/transcript", controllers.GetScenarioTranscript)
		scenario.POST("/:id/reset", controllers.ResetScenario)
		scenario.DELETE("/:id", controllers.EndScenario)
	}
}
