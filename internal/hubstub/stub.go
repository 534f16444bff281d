// Package hubstub is an in-process implementation of the hub's HTTP
// contract: single-use upload tokens, a multipart upload endpoint, a
// tier-capacity status endpoint and best-effort deletes. It backs the local
// development server and the transfer-client tests.
package hubstub

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTokenTTL    = 5 * time.Minute
	defaultCapacityMB  = 1024
	defaultMaxSizeMB   = 150
	defaultExpiryHours = 168
)

type tokenClaims struct {
	Filename      string `json:"filename"`
	ContentLength int64  `json:"content_length"`
	StorageTier   string `json:"storage_tier"`
	jwt.RegisteredClaims
}

// Stub is one in-memory hub instance.
type Stub struct {
	engine *gin.Engine
	logger *zap.Logger
	secret []byte

	mu          sync.Mutex
	usedTokens  map[string]bool
	files       map[string][]byte
	availableMB map[string]float64
	denyUploads bool
}

// New builds a stub with fresh state and a random token secret.
func New(logger *zap.Logger) *Stub {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Stub{
		engine:     engine,
		logger:     logger.With(zap.String("component", "hubstub")),
		secret:     []byte(uuid.NewString()),
		usedTokens: make(map[string]bool),
		files:      make(map[string][]byte),
		availableMB: map[string]float64{
			"temp":       defaultCapacityMB,
			"persistent": defaultCapacityMB,
		},
	}
	s.setupRoutes()
	return s
}

// Engine exposes the gin engine; it implements http.Handler for tests and
// Run for the dev server.
func (s *Stub) Engine() *gin.Engine {
	return s.engine
}

// SetAvailableMB overrides a tier's remaining capacity.
func (s *Stub) SetAvailableMB(tier string, mb float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availableMB[tier] = mb
}

// DenyUploads makes the status endpoint report can_upload=false.
func (s *Stub) DenyUploads(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyUploads = deny
}

// StoredFile returns the uploaded bytes for a server-assigned filename.
func (s *Stub) StoredFile(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[filename]
	return data, ok
}

func (s *Stub) setupRoutes() {
	v1 := s.engine.Group("/api/v1")

	v1.POST("/upload-token", s.issueToken)
	v1.POST("/upload/:tokenID", s.upload)
	v1.GET("/status", s.status)
	v1.POST("/delete", s.deleteFile)
}

func (s *Stub) issueToken(c *gin.Context) {
	var req struct {
		Filename      string `json:"filename" binding:"required"`
		ContentLength int64  `json:"content_length"`
		StorageTier   string `json:"storage_tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token request body"})
		return
	}
	if req.StorageTier == "" {
		req.StorageTier = "temp"
	}

	tokenID := uuid.NewString()
	expiresAt := time.Now().Add(defaultTokenTTL)
	claims := &tokenClaims{
		Filename:      req.Filename,
		ContentLength: req.ContentLength,
		StorageTier:   req.StorageTier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.logger.Error("Failed to sign upload token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue upload token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        signed,
		"filename":     req.Filename,
		"storage_tier": req.StorageTier,
		"expires_in":   int(defaultTokenTTL.Seconds()),
		"upload_url":   "/api/v1/upload/" + tokenID,
		"max_size_mb":  defaultMaxSizeMB,
	})
}

func (s *Stub) upload(c *gin.Context) {
	claims, err := s.validateToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
		return
	}
	if claims.ID != c.Param("tokenID") {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Token does not match upload URL"})
		return
	}

	s.mu.Lock()
	if s.usedTokens[claims.ID] {
		s.mu.Unlock()
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Upload token already used"})
		return
	}
	s.usedTokens[claims.ID] = true
	s.mu.Unlock()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing file part"})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unreadable file part"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to read upload"})
		return
	}

	assigned := uuid.NewString()[:8] + "_" + claims.Filename
	sizeMB := float64(len(data)) / (1024 * 1024)

	s.mu.Lock()
	s.files[assigned] = data
	s.availableMB[claims.StorageTier] -= sizeMB
	s.mu.Unlock()

	s.logger.Info("Stored upload",
		zap.String("filename", assigned),
		zap.String("tier", claims.StorageTier),
		zap.Int("bytes", len(data)),
	)

	c.JSON(http.StatusOK, gin.H{
		"download_url":     "/files/" + assigned,
		"filename":         assigned,
		"expires_in_hours": defaultExpiryHours,
	})
}

func (s *Stub) status(c *gin.Context) {
	tier := c.DefaultQuery("tier", "temp")

	s.mu.Lock()
	available := s.availableMB[tier]
	fileCount := len(s.files)
	canUpload := !s.denyUploads && available > 0
	s.mu.Unlock()

	usage := (defaultCapacityMB - available) / defaultCapacityMB * 100
	if usage < 0 {
		usage = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"available_mb":     available,
		"usage_percent":    usage,
		"file_count":       fileCount,
		"can_upload":       canUpload,
		"max_file_size_mb": defaultMaxSizeMB,
	})
}

func (s *Stub) deleteFile(c *gin.Context) {
	var req struct {
		Filename string `json:"filename" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid delete request body"})
		return
	}

	s.mu.Lock()
	delete(s.files, req.Filename)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

func (s *Stub) validateToken(c *gin.Context) (*tokenClaims, error) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("missing bearer token")
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid upload token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid upload token")
	}
	return claims, nil
}
