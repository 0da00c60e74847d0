package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/forensics-gateway/internal/inference"
	"github.com/example/forensics-gateway/internal/usecase"
	"github.com/example/forensics-gateway/internal/verdict"
)

// ServiceName identifies the gateway in the index reply.
const ServiceName = "image-forensics-gateway"

// MaxUploadSize caps a single image upload at 10 MB.
const MaxUploadSize = 10 << 20

// maxMultipartOverhead is slack for multipart framing around a max-size part.
const maxMultipartOverhead = 1 << 20

// Fixed user-facing reasons for the error envelopes.
const (
	whyNoFile          = "No image uploaded. Attach a file under the \"image\" form field."
	whyUnsupportedType = "Unsupported image type %q. Allowed: jpeg, jpg, png, gif, webp."
	whyTooLarge        = "Image exceeds the 10 MB upload limit."
	whyNoCredential    = "Detection service is not configured with an API credential."
	whyInternal        = "Image analysis failed. Please try again."
)

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// Options carries the request-independent settings the handlers need.
type Options struct {
	HasKey bool
	Debug  bool
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.DetectionUseCase, opts Options) {
	router.Use(corsMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"service": ServiceName,
			"routes":  []string{"/health", "/detect"},
		})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":     true,
			"hasKey": opts.HasKey,
			"debug":  opts.Debug,
		})
	})

	router.POST("/detect", func(c *gin.Context) {
		start := time.Now()
		requestID := usecase.NewRequestID()

		// Cap the body before any parsing so an oversize upload is cut off
		// at the upload layer instead of being buffered in full.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+maxMultipartOverhead)

		file, err := c.FormFile("image")
		if err != nil {
			if isBodyTooLarge(err) {
				replyError(c, http.StatusBadRequest, requestID, start, whyTooLarge, opts, "", 0)
				return
			}
			replyError(c, http.StatusBadRequest, requestID, start, whyNoFile, opts, "", 0)
			return
		}

		mediaType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
		if _, ok := allowedTypes[mediaType]; !ok {
			replyError(c, http.StatusBadRequest, requestID, start,
				fmt.Sprintf(whyUnsupportedType, mediaType), opts, "", 0)
			return
		}

		if file.Size > MaxUploadSize {
			replyError(c, http.StatusBadRequest, requestID, start, whyTooLarge, opts, "", 0)
			return
		}

		if !opts.HasKey {
			replyError(c, http.StatusInternalServerError, requestID, start, whyNoCredential,
				opts, inference.ErrMissingCredential.Error(), http.StatusInternalServerError)
			return
		}

		src, err := file.Open()
		if err != nil {
			replyError(c, http.StatusInternalServerError, requestID, start, whyInternal,
				opts, "unable to open upload: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			replyError(c, http.StatusInternalServerError, requestID, start, whyInternal,
				opts, "unable to read upload: "+err.Error(), http.StatusInternalServerError)
			return
		}

		mapped, err := uc.Detect(c.Request.Context(), requestID, mediaType, data)
		if err != nil {
			debugStatus := http.StatusInternalServerError
			var apiErr *inference.APIError
			if errors.As(err, &apiErr) {
				debugStatus = apiErr.Status
			}
			replyError(c, http.StatusInternalServerError, requestID, start, whyInternal,
				opts, err.Error(), debugStatus)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"result":        mapped.Result,
			"confidence":    mapped.Confidence,
			"why":           mapped.Why,
			"request_id":    requestID,
			"processing_ms": time.Since(start).Milliseconds(),
		})
	})
}

// replyError writes the uniform error envelope. The debug payload is attached
// only for internal failures and only when debug mode is on.
func replyError(c *gin.Context, status int, requestID string, start time.Time, why string, opts Options, debugMsg string, debugStatus int) {
	body := gin.H{
		"result":        verdict.ResultInconclusive,
		"confidence":    0,
		"why":           why,
		"request_id":    requestID,
		"processing_ms": time.Since(start).Milliseconds(),
	}
	if opts.Debug && debugMsg != "" {
		body["debug"] = gin.H{"message": debugMsg, "status": debugStatus}
	}
	c.JSON(status, body)
}

// isBodyTooLarge recognizes the MaxBytesReader trip; the multipart reader
// sometimes surfaces it as a plain error instead of *http.MaxBytesError.
func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large")
}

// corsMiddleware permits browser calls from any origin. Pre-flight requests
// are answered with 200 and no body.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
