package handler

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/padhai/ragserver/internal/middleware"
)

type RouterDeps struct {
	RAG             *RAGHandler
	JWTSecret       []byte
	JWTAudience     string
	CORSAllowlist   []string
	IndexRateWindow time.Duration
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(deps.CORSAllowlist))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Liveness only; everything else runs behind the token check.
	router.GET("/", deps.RAG.Health)

	authGroup := router.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret, deps.JWTAudience))
	authGroup.GET("/folders", deps.RAG.Folders)
	authGroup.POST("/index_folder", middleware.RateLimit(deps.IndexRateWindow), deps.RAG.IndexFolder)
	authGroup.POST("/chat", deps.RAG.Chat)
	authGroup.GET("/debug/list_storage/:folder_name", deps.RAG.DebugListStorage)

	return router
}
