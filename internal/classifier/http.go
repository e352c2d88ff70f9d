package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/skinscan/internal/scan"
)

// DefaultTimeout bounds a single model-server call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a model-server response is read.
const maxResponseBytes = 1 << 20

// HTTP calls an external model server.
//
// The server receives a multipart/form-data POST with the image in the
// "file" part. Images are expected to be RGB-convertible; the server
// resizes to its input size (224x224 for the face-disease model).
//
// Thread-safety: HTTP is safe for concurrent use.
type HTTP struct {
	url        string
	httpClient *http.Client
}

// NewHTTP creates a client for the model server at url.
// A zero timeout means DefaultTimeout.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// modelResponse is the model server's answer.
type modelResponse struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
}

// errorResponse is the model server's error body.
type errorResponse struct {
	Detail string `json:"detail"`
}

// Classify uploads img and parses the prediction.
func (c *HTTP) Classify(ctx context.Context, img []byte) (scan.Prediction, error) {
	body, contentType, err := multipartImage(img)
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("build request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
			return scan.Prediction{}, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, e.Detail)
		}
		return scan.Prediction{}, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out modelResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return scan.Prediction{}, fmt.Errorf("decode response: %w", err)
	}
	if out.PredictedClass == "" {
		return scan.Prediction{}, fmt.Errorf("decode response: missing predicted_class")
	}

	return scan.Prediction{Label: out.PredictedClass, Confidence: out.Confidence}, nil
}

// multipartImage wraps img in a form with a single "file" part whose
// Content-Type is sniffed from the bytes.
func multipartImage(img []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mt := mimetype.Detect(img)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="scan%s"`, mt.Extension()))
	h.Set("Content-Type", mt.String())

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
