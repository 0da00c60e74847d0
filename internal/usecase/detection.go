package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/forensics-gateway/internal/inference"
	"github.com/example/forensics-gateway/internal/logging"
	"github.com/example/forensics-gateway/internal/verdict"
)

// DetectionUseCase runs the per-request classification pipeline:
// inference call, lenient parse, threshold mapping. It holds no state
// beyond the injected client and logger; requests are independent.
type DetectionUseCase struct {
	client inference.Client
	logger *zap.Logger
}

// NewDetectionUseCase constructs a new use case instance.
func NewDetectionUseCase(client inference.Client, logger *zap.Logger) *DetectionUseCase {
	return &DetectionUseCase{
		client: client,
		logger: logger.Named("detection_usecase"),
	}
}

// NewRequestID mints a per-request correlation ID: millisecond timestamp plus
// a random suffix, unique enough across a single process's lifetime.
func NewRequestID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Detect classifies one uploaded image and maps the model's answer to a
// verdict. Any failure is wrapped with the operation and request ID.
func (uc *DetectionUseCase) Detect(ctx context.Context, requestID, mediaType string, image []byte) (verdict.Verdict, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.detect", requestID)

	text, err := uc.client.Classify(ctx, mediaType, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.classify_image", requestID, err)
		opLogger.Error("inference call failed", zap.Error(wrapped))
		return verdict.Verdict{}, wrapped
	}

	raw, err := verdict.Parse(text)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.parse_verdict", requestID, err)
		opLogger.Error("model output not parseable", zap.Error(wrapped))
		return verdict.Verdict{}, wrapped
	}

	mapped := verdict.Map(raw)
	opLogger.Info("image classified",
		zap.String("classification", raw.Classification),
		zap.Float64("confidence", raw.Confidence),
		zap.String("result", mapped.Result))
	return mapped, nil
}
