package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/forensics-gateway/internal/handlers"
	"github.com/example/forensics-gateway/internal/usecase"
	"github.com/example/forensics-gateway/internal/verdict"
)

// blockingClient parks inside Classify until released, so the test can hold
// a /detect request in flight across the shutdown signal.
type blockingClient struct {
	started chan struct{}
	release chan struct{}
	text    string
}

func (c *blockingClient) Classify(ctx context.Context, mediaType string, image []byte) (string, error) {
	select {
	case <-c.started:
	default:
		close(c.started)
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.text, nil
}

func TestServerGracefulShutdownDrainsDetect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
		text:    `{"classification":"AI Generated","confidence_raw":85,"reason":"visible artifacts"}`,
	}
	defer func() {
		select {
		case <-client.release:
		default:
			close(client.release)
		}
	}()

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	uc := usecase.NewDetectionUseCase(client, logger)
	handlers.RegisterRoutes(router, uc, handlers.Options{HasKey: true})

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	body, contentType := buildDetectBody(t)
	httpClient := &http.Client{Timeout: 5 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending detect request")
		resp, err := httpClient.Post("http://"+addr+"/detect", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-client.started:
		t.Log("detect request reached the inference client")
	case <-time.After(2 * time.Second):
		t.Fatal("detect request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(client.release)
	t.Log("released inference call")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read drained response: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(raw))
		}
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("failed to decode drained response %q: %v", string(raw), err)
		}
		if decoded["result"] != verdict.ResultAIGenerated {
			t.Fatalf("unexpected result: %v", decoded["result"])
		}
		if decoded["confidence"] != float64(85) {
			t.Fatalf("unexpected confidence: %v", decoded["confidence"])
		}
		if decoded["why"] != "visible artifacts" {
			t.Fatalf("unexpected why: %v", decoded["why"])
		}
		if id, ok := decoded["request_id"].(string); !ok || id == "" {
			t.Fatalf("missing request_id in %v", decoded)
		}
		if ms, ok := decoded["processing_ms"].(float64); !ok || ms < 0 {
			t.Fatalf("missing or negative processing_ms in %v", decoded)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func buildDetectBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload.jpg"`)
	header.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
