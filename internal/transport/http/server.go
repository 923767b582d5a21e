package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/rtchat-server/internal/auth"
	"github.com/vovakirdan/rtchat-server/internal/config"
	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/filestore"
)

// NewServer builds the HTTP server serving the API and websocket routes.
func NewServer(hub *core.Hub, authService *auth.Service, files filestore.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, files, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers every route on a gin engine.
func NewRouter(hub *core.Hub, authService *auth.Service, files filestore.Store, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))
	// uploads are streamed through MaxBytesReader, keep the in-memory part small
	r.MaxMultipartMemory = 1 << 20

	r.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(hub, logger)
	fileHandlers := NewFileHandlers(hub, files, cfg.MaxUploadBytes, logger)
	wsHandlers := NewWSHandlers(hub, logger)

	public := r.Group("/api", RateLimitMiddleware(cfg.AuthRatePerMinute))
	public.POST("/register", apiHandlers.Register)
	public.POST("/login", apiHandlers.Login)

	authMW := AuthMiddleware(authService, logger)

	api := r.Group("/api", authMW)
	api.GET("/rooms", roomHandlers.ListRooms)
	api.POST("/rooms", roomHandlers.CreateRoom)
	api.POST("/rooms/private", roomHandlers.OpenPrivate)
	api.GET("/rooms/:room", roomHandlers.GetRoom)
	api.PATCH("/rooms/:room", roomHandlers.RenameRoom)
	api.DELETE("/rooms/:room", roomHandlers.DeleteRoom)
	api.POST("/rooms/:room/leave", roomHandlers.LeaveRoom)
	api.GET("/rooms/:room/messages", roomHandlers.History)
	api.POST("/rooms/:room/files", fileHandlers.Upload)
	api.POST("/rooms/:room/bans", roomHandlers.Ban)
	api.DELETE("/rooms/:room/bans/:user", roomHandlers.Unban)
	api.POST("/messages/:id/seen", roomHandlers.MarkSeen)
	api.GET("/files/:ref", fileHandlers.Download)

	ws := r.Group("/ws", authMW)
	ws.GET("/rooms/:room", wsHandlers.Room)
	ws.GET("/online", wsHandlers.Online)
	ws.GET("/notifications", wsHandlers.Notifications)

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
