package plugins

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/kozaktomas/people-tracker/internal/imaging"
)

const (
	uploadQuality = 90
	// maxResponseBytes bounds what we read from remote analyzers.
	maxResponseBytes = 1 << 20
)

// imageUpload describes one multipart image POST.
type imageUpload struct {
	URL       string
	Field     string
	Filename  string
	Image     image.Image
	Fields    map[string]string
	Bearer    string
	RequestID string
}

// postImage encodes the image as JPEG, sends it as multipart form data and
// returns the response body of a 200 answer.
func postImage(ctx context.Context, client *http.Client, u imageUpload) ([]byte, error) {
	data, err := imaging.EncodeJPEG(u.Image, uploadQuality)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.Field, u.Filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	for k, v := range u.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if u.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+u.Bearer)
	}
	if u.RequestID != "" {
		req.Header.Set("X-Request-ID", u.RequestID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
