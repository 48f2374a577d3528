// Package websearch augments retrieval with search-grounded web answers.
package websearch

import (
	"bytes"
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/specup-ai/specup/internal/errors"
)

const (
	// DefaultModel is the search-grounded chat model.
	DefaultModel = "sonar"

	// DefaultTimeout bounds one augmentation call. The pipeline treats an
	// expired budget as a degraded query, never a failed one.
	DefaultTimeout = 8 * time.Second

	// DefaultMaxSnippets caps how many snippets one call contributes.
	DefaultMaxSnippets = 5
)

// systemPrompt steers the model toward current Dungeon & Fighter progression
// facts. Korean because the corpus and the players are.
const systemPrompt = "당신은 던전앤파이터(DNF) 전문가입니다. " +
	"최신 업데이트 기준으로 게임 진행, 던전 입장 조건, 명성 수치, 직업별 세팅을 " +
	"정확하고 간결하게 한국어로 답하세요. 추측하지 말고 검색된 결과에 근거하세요."

// QueryContext carries the asking character's attributes. A non-empty
// context is digested into the search prompt so the answer matches the
// player's actual progression point.
type QueryContext struct {
	ClassName string
	Fame      int
}

func (c QueryContext) digest() string {
	var parts []string
	if c.ClassName != "" {
		parts = append(parts, "직업: "+c.ClassName)
	}
	if c.Fame > 0 {
		parts = append(parts, fmt.Sprintf("명성: %d", c.Fame))
	}
	if len(parts) == 0 {
		return ""
	}
	return "[캐릭터 정보] " + strings.Join(parts, ", ")
}

// Snippet is one normalized web evidence unit.
type Snippet struct {
	// ID is stable within one response: citation URLs keep their URL-derived
	// identity for dedupe; the synthesized answer gets a fresh UUID.
	ID    string
	Text  string
	Title string
	URL   string
}

// Searcher is the augmentation contract the pipeline depends on.
type Searcher interface {
	// Search returns normalized snippets for the query. A nil slice with
	// nil error means augmentation found nothing usable.
	Search(ctx context.Context, query string, qc QueryContext) ([]Snippet, error)

	// Close releases resources.
	Close() error
}

// Config configures the web augmentation client.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.perplexity.ai".
	BaseURL string

	// APIKey authenticates requests. Required.
	APIKey string

	// Model is the search-grounded model. Defaults to DefaultModel.
	Model string

	// Timeout bounds one call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxSnippets caps returned snippets. Defaults to DefaultMaxSnippets.
	MaxSnippets int

	// MaxFailures trips the circuit breaker. Defaults to 3.
	MaxFailures int
}

// Client calls a Perplexity-style chat completions API and normalizes the
// grounded answer plus its citations into snippets.
type Client struct {
	config  Config
	client  *http.Client
	breaker *errors.CircuitBreaker
	logger  *slog.Logger
}

var _ Searcher = (*Client)(nil)

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ConfigError("web search base URL is required", nil)
	}
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("web search API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = DefaultMaxSnippets
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: errors.NewCircuitBreaker("websearch", errors.WithMaxFailures(cfg.MaxFailures)),
		logger:  logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"search_results"`
	Citations []string `json:"citations"`
}

// Search sends the query with the character digest and normalizes the
// response. Timeouts surface as ErrAugmentationTimeout; other failures as
// ErrRetrievalUnavailable-style upstream errors.
func (c *Client) Search(ctx context.Context, query string, qc QueryContext) ([]Snippet, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	started := time.Now()
	snippets, err := errors.CircuitExecute(c.breaker, func() ([]Snippet, error) {
		return c.doSearch(callCtx, query, qc)
	})
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("web augmentation after %s: %w",
				time.Since(started).Round(time.Millisecond), errors.ErrAugmentationTimeout)
		}
		return nil, errors.New(errors.ErrCodeAugmentationFailed, "web augmentation failed", err)
	}

	c.logger.Debug("web_augmentation_done",
		"snippets", len(snippets),
		"duration_ms", time.Since(started).Milliseconds())
	return snippets, nil
}

func (c *Client) doSearch(ctx context.Context, query string, qc QueryContext) ([]Snippet, error) {
	userContent := query
	if digest := qc.digest(); digest != "" {
		userContent = digest + "\n" + query
	}

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal web search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create web search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("web search returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode web search response: %w", err)
	}

	return c.normalize(parsed), nil
}

// normalize turns the grounded answer and its citations into snippets. The
// synthesized answer comes first; citation snippets follow in API order.
func (c *Client) normalize(resp chatResponse) []Snippet {
	var snippets []Snippet

	if len(resp.Choices) > 0 {
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content != "" {
			snippets = append(snippets, Snippet{
				ID:   uuid.NewString(),
				Text: content,
			})
		}
	}

	titles := make(map[string]string, len(resp.SearchResults))
	for _, sr := range resp.SearchResults {
		titles[sr.URL] = sr.Title
	}

	for _, rawURL := range resp.Citations {
		if len(snippets) >= c.config.MaxSnippets {
			break
		}
		normalized := NormalizeURL(rawURL)
		if normalized == "" {
			continue
		}
		title := titles[rawURL]
		text := title
		if text == "" {
			text = rawURL
		}
		snippets = append(snippets, Snippet{
			ID:    normalized,
			Text:  text,
			Title: title,
			URL:   rawURL,
		})
	}

	if len(snippets) > c.config.MaxSnippets {
		snippets = snippets[:c.config.MaxSnippets]
	}
	return snippets
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// NormalizeURL canonicalizes a URL for dedupe: lowercase scheme and host,
// no trailing slash, no fragment.
func NormalizeURL(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return ""
	}
	if idx := strings.IndexByte(u, '#'); idx >= 0 {
		u = u[:idx]
	}
	u = strings.TrimRight(u, "/")

	lower := strings.ToLower(u)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			rest := u[len(prefix):]
			if slash := strings.IndexByte(rest, '/'); slash >= 0 {
				return prefix + strings.ToLower(rest[:slash]) + rest[slash:]
			}
			return prefix + strings.ToLower(rest)
		}
	}
	return u
}
