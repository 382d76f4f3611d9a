package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/nvr-ai/go-cheatdetect/video"
	"github.com/pkg/errors"
)

const (
	healthMessage    = "Cheat detection system is ready to catch your attempts!"
	challengeMessage = "Think you can beat our detection rate? Try uploading more content!"
)

// ImageResponse is the /detect/image payload.
type ImageResponse struct {
	*detector.Result
	Filename         string `json:"filename"`
	FileSize         int    `json:"file_size"`
	ImageDimensions  string `json:"image_dimensions"`
	ProcessingStatus string `json:"processing_status"`
	Preview          string `json:"preview,omitempty"`
}

// VideoResponse is the /detect/video payload.
type VideoResponse struct {
	*video.Result
	FileSize         int64  `json:"file_size"`
	ProcessingStatus string `json:"processing_status"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	detector.Stats
	APIStatus          string `json:"api_status"`
	ChallengeMessage   string `json:"challenge_message"`
	LeaderboardMessage string `json:"leaderboard_message"`
}

// ConfigureRequest is the /configure body.
type ConfigureRequest struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     "Welcome to Try-to-cheat-if-you-dare API!",
		"description": "Think you can fool our AI? Try uploading a deepfake and see what happens!",
		"endpoints": gin.H{
			"health":       "/health",
			"detect_image": "/detect/image",
			"detect_video": "/detect/video",
			"stats":        "/stats",
			"configure":    "/configure",
			"websocket":    "/ws/detect",
		},
		"challenge": "We dare you to try cheating! 🎯",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"detector_ready": true,
		"message":        healthMessage,
		"stats":          s.session.Stats(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.session.Stats()
	c.JSON(http.StatusOK, StatsResponse{
		Stats:              stats,
		APIStatus:          "active",
		ChallengeMessage:   challengeMessage,
		LeaderboardMessage: fmt.Sprintf("Current success rate: %s - Can you lower it?", stats.SuccessRate),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetCurrentStats())
}

func (s *Server) handleDetectImage(c *gin.Context) {
	defer s.timeOperation("detect_image")()

	header, ok := s.upload(c, "image/", "File must be an image")
	if !ok {
		return
	}
	data, err := readUpload(header)
	if err != nil {
		s.fail(c, "Error processing image", err)
		return
	}

	img, err := images.Decode(data)
	if err != nil {
		s.fail(c, "Error processing image", err)
		return
	}
	defer img.Close()

	result, err := s.session.Detect(img)
	if err != nil {
		s.fail(c, "Error processing image", err)
		return
	}

	resp := ImageResponse{
		Result:           result,
		Filename:         header.Filename,
		FileSize:         len(data),
		ImageDimensions:  fmt.Sprintf("%dx%d", img.Cols(), img.Rows()),
		ProcessingStatus: "completed",
	}

	if wantPreview, _ := strconv.ParseBool(c.Query("preview")); wantPreview {
		boxes := make([]images.Box, 0, len(result.Faces))
		for _, face := range result.Faces {
			boxes = append(boxes, images.Box{Region: face.BBox, Flagged: face.IsCheating})
		}
		if resp.Preview, err = images.Preview(img, boxes, s.opts.PreviewSize); err != nil {
			log.Warn("preview failed", "request_id", c.GetString(requestIDKey), "error", err)
		}
	}

	log.Info("processed image",
		"request_id", c.GetString(requestIDKey),
		"filename", header.Filename,
		"checksum", images.ComputeMatChecksum(img),
		"faces", result.FacesDetected,
		"is_cheating", result.IsCheating,
	)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDetectVideo(c *gin.Context) {
	header, ok := s.upload(c, "video/", "File must be a video")
	if !ok {
		return
	}

	path, size, err := spool(header)
	if err != nil {
		s.fail(c, "Error processing video", err)
		return
	}
	defer os.Remove(path)

	scanner := &video.Scanner{
		Detector:     s.session,
		SampleFrames: s.opts.SampleFrames,
		ReportFrames: s.opts.ReportFrames,
	}
	if s.metrics != nil {
		scanner.Timer = s.metrics
	}

	result, err := scanner.Scan(c.Request.Context(), path)
	if err != nil {
		s.fail(c, "Error processing video", err)
		return
	}
	result.Filename = header.Filename

	log.Info("processed video",
		"request_id", c.GetString(requestIDKey),
		"filename", header.Filename,
		"cheating_frames", result.CheatingFrames,
		"frames_analyzed", result.FramesAnalyzed,
	)
	c.JSON(http.StatusOK, VideoResponse{Result: result, FileSize: size, ProcessingStatus: "completed"})
}

func (s *Server) handleConfigure(c *gin.Context) {
	var req ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Configuration error: " + err.Error()})
		return
	}
	if req.ConfidenceThreshold == nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No valid configuration provided"})
		return
	}

	effective := s.session.SetThreshold(*req.ConfidenceThreshold)
	log.Info("threshold updated", "request_id", c.GetString(requestIDKey), "requested", *req.ConfidenceThreshold, "threshold", effective)

	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      fmt.Sprintf("Confidence threshold updated to %v", effective),
		"new_settings": s.session.Stats(),
	})
}

func (s *Server) handleStateSave(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No state store configured"})
		return
	}
	if err := s.session.Save(c.Request.Context(), s.store); err != nil {
		s.fail(c, "Error saving state", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "stats": s.session.Stats()})
}

func (s *Server) handleStateLoad(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No state store configured"})
		return
	}
	err := s.session.Load(c.Request.Context(), s.store)
	if errors.Is(err, state.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No saved state"})
		return
	}
	if err != nil {
		s.fail(c, "Error loading state", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "stats": s.session.Stats()})
}

// upload fetches the multipart "file" field and checks its content type and
// size, writing the error response itself when the upload is rejected. The
// request body is capped at MaxUploadBytes before it is parsed.
func (s *Server) upload(c *gin.Context, prefix, wrongType string) (*multipart.FileHeader, bool) {
	if c.Request.ContentLength > s.opts.MaxUploadBytes {
		s.tooLarge(c)
		return nil, false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.tooLarge(c)
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "A multipart \"file\" field is required"})
		return nil, false
	}
	if !strings.HasPrefix(header.Header.Get("Content-Type"), prefix) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": wrongType})
		return nil, false
	}
	if header.Size > s.opts.MaxUploadBytes {
		s.tooLarge(c)
		return nil, false
	}
	return header, true
}

func (s *Server) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": fmt.Sprintf("File exceeds %d bytes", s.opts.MaxUploadBytes)})
}

// fail maps err onto a status code: invalid input is the caller's fault,
// everything else is ours.
func (s *Server) fail(c *gin.Context, what string, err error) {
	_ = c.Error(err)
	status := http.StatusInternalServerError
	if errors.Is(err, common.ErrInvalidInput) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"detail": fmt.Sprintf("%s: %v", what, err)})
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, errors.Wrap(err, "open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	return data, nil
}

// spool copies an upload into a temp file keeping its extension, so the
// video demuxer can pick the container by name.
func spool(header *multipart.FileHeader) (string, int64, error) {
	src, err := header.Open()
	if err != nil {
		return "", 0, errors.Wrap(err, "open upload")
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "cheatdetect-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", 0, errors.Wrap(err, "create temp file")
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst.Name())
		return "", 0, errors.Wrap(err, "spool upload")
	}
	return dst.Name(), n, nil
}
