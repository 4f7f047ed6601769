package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/auth"
	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/models"
	"github.com/franckalain/fruitbeast/internal/orchestrator"
	"github.com/franckalain/fruitbeast/internal/session"
)

const maxImageBytes = 10 << 20

var (
	errInvalidImage = errors.New("Invalid image format")
	errNothingToLog = errors.New("No analysis to log")
)

type imagePayload struct {
	Image    string `json:"image"` // base64 or data URL
	MimeType string `json:"mimeType"`
}

type postalCodePayload struct {
	PostalCode string `json:"postalCode"`
}

type preferencesView struct {
	PostalCode      string `json:"postalCode"`
	NeedsPostalCode bool   `json:"needsPostalCode"`
	Suggestion      string `json:"suggestion"`
}

func viewPreferences(sess *session.Session) preferencesView {
	return preferencesView{
		PostalCode:      sess.PostalCode(),
		NeedsPostalCode: sess.NeedsPostalCode(),
		Suggestion:      sess.Suggestion(),
	}
}

// session resolves the caller's session or writes an error response
func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	sess, err := s.sessions.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.logger.Error("failed to load session", zap.String("user", auth.UserID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleAnalyze(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	img, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := sess.Analysis.Analyze(c.Request.Context(), img)
	if errors.Is(err, orchestrator.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if snap.State == orchestrator.StateFailed {
		c.JSON(http.StatusBadGateway, snap)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Analysis.Snapshot())
}

func (s *Server) handleRecipeImage(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	snap, err := sess.Analysis.RecipeImage(c.Request.Context())
	switch {
	case errors.Is(err, orchestrator.ErrNoAnalysis), errors.Is(err, orchestrator.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNoRecipeIdea):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case snap.RecipeImage.State == orchestrator.StateFailed:
		c.JSON(http.StatusBadGateway, snap)
	default:
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) handleListLogs(c *gin.Context) {
	snap, err := s.logs.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.logger.Error("failed to list fruit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list fruit logs"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleLogCurrent(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	current := sess.Analysis.Current()
	if current == nil {
		c.JSON(http.StatusConflict, gin.H{"error": errNothingToLog.Error()})
		return
	}

	entry, err := s.logs.Append(c.Request.Context(), sess.UserID, current)
	if err != nil {
		s.respondLogError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleLogManual(c *gin.Context) {
	var req logstore.ManualEntry
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	entry, err := s.logs.AppendManual(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		s.respondLogError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) respondLogError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logstore.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, logstore.ErrPersistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": logstore.ErrPersistence.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleGetPostalCode(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewPreferences(sess))
}

func (s *Server) handleSetPostalCode(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	var req postalCodePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := sess.SetPostalCode(c.Request.Context(), req.PostalCode); err != nil {
		if errors.Is(err, session.ErrInvalidPostalCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to save postal code", zap.String("user", sess.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save postal code"})
		return
	}
	c.JSON(http.StatusOK, viewPreferences(sess))
}

func (s *Server) handleSuggestion(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestion": sess.Suggestion()})
}

// readImage accepts a multipart "image" file or a JSON imagePayload
func readImage(c *gin.Context) (models.Image, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			return models.Image{}, fmt.Errorf("%w: missing image file", errInvalidImage)
		}
		if fh.Size > maxImageBytes {
			return models.Image{}, fmt.Errorf("%w: image too large", errInvalidImage)
		}
		f, err := fh.Open()
		if err != nil {
			return models.Image{}, fmt.Errorf("%w: %v", errInvalidImage, err)
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
		if err != nil {
			return models.Image{}, fmt.Errorf("%w: %v", errInvalidImage, err)
		}
		return newImage(data, fh.Header.Get("Content-Type"))
	}

	var req imagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		return models.Image{}, fmt.Errorf("%w: invalid request", errInvalidImage)
	}
	return decodeImage(req.Image, req.MimeType)
}

// decodeImage accepts raw base64 or a data: URL
func decodeImage(encoded, mimeType string) (models.Image, error) {
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return models.Image{}, errInvalidImage
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(header, ";base64")
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return models.Image{}, fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	return newImage(data, mimeType)
}

func newImage(data []byte, mimeType string) (models.Image, error) {
	if len(data) == 0 {
		return models.Image{}, fmt.Errorf("%w: empty image", errInvalidImage)
	}
	if len(data) > maxImageBytes {
		return models.Image{}, fmt.Errorf("%w: image too large", errInvalidImage)
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return models.Image{}, fmt.Errorf("%w: not an image (%s)", errInvalidImage, mimeType)
	}
	return models.Image{MimeType: mimeType, Data: data}, nil
}
