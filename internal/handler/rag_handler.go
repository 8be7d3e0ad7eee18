package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/padhai/ragserver/internal/pkg/response"
	"github.com/padhai/ragserver/internal/service"
)

type RAGHandler struct {
	rag *service.RAGService
}

func NewRAGHandler(rag *service.RAGService) *RAGHandler {
	return &RAGHandler{rag: rag}
}

type indexFolderRequest struct {
	FolderName string `json:"folder_name"`
}

type chatRequest struct {
	FolderName string `json:"folder_name"`
	Query      string `json:"query"`
}

func (h *RAGHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ragserver"})
}

func (h *RAGHandler) Folders(c *gin.Context) {
	folders, err := h.rag.ListFolders(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"folders": folders})
}

func (h *RAGHandler) IndexFolder(c *gin.Context) {
	var req indexFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "invalid request")
		return
	}
	result, err := h.rag.BuildIndex(c.Request.Context(), getUserID(c), req.FolderName)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"status":          "indexed",
		"folder":          result.Folder,
		"files_processed": result.FilesIndexed,
		"chunks_created":  result.ChunksCreated,
		"skipped":         result.Skipped,
	})
}

func (h *RAGHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid", "invalid request")
		return
	}
	result, err := h.rag.Answer(c.Request.Context(), getUserID(c), req.FolderName, req.Query)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *RAGHandler) DebugListStorage(c *gin.Context) {
	folder := c.Param("folder_name")
	infos, err := h.rag.ListStorage(c.Request.Context(), getUserID(c), folder)
	if err != nil {
		handleError(c, err)
		return
	}
	type entry struct {
		Name  string `json:"name"`
		Size  int64  `json:"size"`
		IsDir bool   `json:"is_dir"`
	}
	entries := make([]entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entry{Name: info.Name, Size: info.Size, IsDir: info.IsDir})
	}
	response.Success(c, gin.H{"folder": folder, "objects": entries})
}
