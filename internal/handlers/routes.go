package handlers

import (
	"github.com/gin-gonic/gin"

	"floaagent/pkg/auth"
)

// RegisterRoutes mounts the conductor control API. Wallet events and session
// endpoints work before login; everything else requires the local JWT from
// POST /session/token.
func RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/wallet/events", PostWalletEvent)
		v1.GET("/session", GetSessionStatus)
		v1.POST("/session/token", PostSessionToken)
		v1.POST("/session/logout", PostLogout)

		protected := v1.Group("")
		protected.Use(auth.JWTAuthMiddleware(localSecret))

		operations := protected.Group("/operations")
		{
			operations.GET("", ListOperations)
			operations.POST("/create-agent", CreateAgent)
			operations.POST("/upgrade-agent", UpgradeAgent)
			operations.POST("/buy-ticket", BuyTicket)
			operations.POST("/add-slot", AddSlot)
			operations.POST("/generate-video", GenerateVideo)
			operations.POST("/rename-agent", RenameAgent)
			operations.POST("/change-voice", ChangeVoice)
			operations.POST("/delete-slot", DeleteSlot)
			operations.POST("/withdraw", Withdraw)
			operations.GET("/:operation", GetOperationStatus)
			operations.POST("/:operation/consume", ConsumeOperationResult)
			operations.POST("/:operation/reset", ResetOperation)
		}

		tasks := protected.Group("/tasks")
		{
			tasks.POST("", StartPoll)
			tasks.GET("/:task_id", GetPollStatus)
			tasks.DELETE("/:task_id", AcknowledgePoll)
		}

		audio := protected.Group("/audio")
		{
			audio.GET("", GetAudioStatus)
			audio.POST("/fragments", EnqueueAudio)
			audio.POST("/stop", StopAudio)
		}

		chat := protected.Group("/chat")
		{
			chat.POST("/connect", ConnectChat)
			chat.POST("/disconnect", DisconnectChat)
		}
	}
}
