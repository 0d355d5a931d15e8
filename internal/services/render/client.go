package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Renderer turns a template and its inputs into image bytes
type Renderer interface {
	Render(ctx context.Context, key string, images []models.NamedImage, texts []string, options models.Options) ([]byte, error)
}

// Client talks to an HTTP render service
type Client struct {
	baseURL         string
	loadConcurrency int
	httpClient      *http.Client
	logger          *logrus.Logger
}

// NewClient creates a render service client
func NewClient(cfg *config.RendererConfig, logger *logrus.Logger) *Client {
	concurrency := cfg.LoadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		loadConcurrency: concurrency,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type memeInfo struct {
	Key      string   `json:"key"`
	Keywords []string `json:"keywords"`
	Params   struct {
		MinImages    int      `json:"min_images"`
		MaxImages    int      `json:"max_images"`
		MinTexts     int      `json:"min_texts"`
		MaxTexts     int      `json:"max_texts"`
		DefaultTexts []string `json:"default_texts"`
	} `json:"params"`
	Tags []string `json:"tags"`
}

func (m *memeInfo) template() models.Template {
	return models.Template{
		Key:          m.Key,
		Keywords:     m.Keywords,
		MinImages:    m.Params.MinImages,
		MaxImages:    m.Params.MaxImages,
		MinTexts:     m.Params.MinTexts,
		MaxTexts:     m.Params.MaxTexts,
		DefaultTexts: m.Params.DefaultTexts,
		Tags:         m.Tags,
	}
}

// LoadTemplates fetches every template key and its info from the render service.
// Templates whose info cannot be fetched are skipped.
func (c *Client) LoadTemplates(ctx context.Context) ([]models.Template, error) {
	var keys []string
	if err := c.getJSON(ctx, "/memes/keys", &keys); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	results := make([]*models.Template, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.loadConcurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			var info memeInfo
			if err := c.getJSON(gctx, "/memes/"+url.PathEscape(key)+"/info", &info); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.WithError(err).WithField("key", key).Warn("Failed to fetch template info")
				return nil
			}
			if info.Key == "" {
				info.Key = key
			}
			t := info.template()
			results[i] = &t
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("template info fetch interrupted: %w", err)
	}

	templates := make([]models.Template, 0, len(keys))
	for _, t := range results {
		if t != nil {
			templates = append(templates, *t)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"keys":      len(keys),
		"templates": len(templates),
	}).Debug("Fetched template infos")

	return templates, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Render posts the inputs to the render service and returns the image bytes.
// Failures reported by the service are returned as *Error.
func (c *Client) Render(ctx context.Context, key string, images []models.NamedImage, texts []string, options models.Options) ([]byte, error) {
	body, contentType, err := encodeRequest(images, texts, options)
	if err != nil {
		return nil, &Error{Kind: KindDeserialize, Detail: err.Error()}
	}

	endpoint := fmt.Sprintf("%s/memes/%s/", c.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	c.logger.WithFields(logrus.Fields{
		"key":    key,
		"images": len(images),
		"texts":  len(texts),
	}).Debug("Sending render request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, &Error{Kind: KindUnknown, Detail: "empty result"}
	}

	return data, nil
}

func encodeRequest(images []models.NamedImage, texts []string, options models.Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, img := range images {
		part, err := w.CreateFormFile("images", img.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}

	for _, text := range texts {
		if err := w.WriteField("texts", text); err != nil {
			return nil, "", err
		}
	}

	if options == nil {
		options = models.Options{}
	}
	args, err := json.Marshal(options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode options: %w", err)
	}
	if err := w.WriteField("args", string(args)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeError(status int, body []byte) error {
	var renderErr Error
	if err := json.Unmarshal(body, &renderErr); err != nil || renderErr.Kind == "" {
		return &Error{
			Kind:   KindUnknown,
			Detail: fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body))),
		}
	}
	return &renderErr
}
