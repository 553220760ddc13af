// Package http provides the gateway's REST surface.
package http

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loserbcc/openclaw-gateway/internal/hub"
	"github.com/loserbcc/openclaw-gateway/internal/provider"
	"github.com/loserbcc/openclaw-gateway/internal/store"
)

const defaultHistoryLimit = 50

// BackendInfo reports the resolved generation backend for diagnostics.
type BackendInfo interface {
	Info(ctx context.Context) provider.Info
}

// Transcriber converts uploaded audio to text.
type Transcriber interface {
	Enabled() bool
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Server is the REST + WebSocket HTTP server.
type Server struct {
	echo      *echo.Echo
	hub       *hub.Hub
	store     store.Store
	llm       BackendInfo
	asr       Transcriber
	uploadDir string
}

// NewServer creates the HTTP server and registers all routes. gatewayHandler
// serves the WebSocket upgrade endpoint.
func NewServer(h *hub.Hub, st store.Store, llm BackendInfo, asr Transcriber, uploadDir string, gatewayHandler echo.HandlerFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		hub:       h,
		store:     st,
		llm:       llm,
		asr:       asr,
		uploadDir: uploadDir,
	}

	e.GET("/gateway", gatewayHandler)
	e.GET("/", s.handleRoot)
	e.GET("/messages", s.handleMessages)
	e.POST("/voice", s.handleVoice)
	e.POST("/files/upload", s.handleFileUpload)
	e.GET("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":     "OpenClaw Gateway",
		"version":  "0.1.0",
		"protocol": 3,
	})
}

func (s *Server) handleMessages(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}

	messages, err := s.store.RecentMessages(c.Request().Context(), limit)
	if err != nil {
		log.Printf("Failed to read messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read messages"})
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

func (s *Server) handleVoice(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}
	defer src.Close()

	audio, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}

	if !s.asr.Enabled() {
		return c.JSON(http.StatusServiceUnavailable,
			map[string]string{"error": "ASR not available. Configure OPENCLAW_ASR_API_KEY."})
	}

	transcription, err := s.asr.Transcribe(c.Request().Context(), audio, file.Filename)
	if err != nil || transcription == "" {
		if err != nil {
			log.Printf("Transcription failed: %v", err)
		}
		return c.JSON(http.StatusServiceUnavailable,
			map[string]string{"error": "ASR not available. Configure OPENCLAW_ASR_API_KEY."})
	}

	return c.JSON(http.StatusOK, map[string]string{"transcription": transcription})
}

func (s *Server) handleFileUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		log.Printf("Failed to create upload dir: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store file"})
	}

	filename := filepath.Base(file.Filename)
	if filename == "" || filename == "." || filename == "/" {
		filename = uuid.New().String() + ".bin"
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read file"})
	}

	if err := os.WriteFile(filepath.Join(s.uploadDir, filename), content, 0o644); err != nil {
		log.Printf("Failed to write upload: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store file"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"filename": filename,
		"size":     len(content),
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Count(),
		"llm":     s.llm.Info(c.Request().Context()),
	})
}
