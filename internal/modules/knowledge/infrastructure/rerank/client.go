package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"QuizGazer/internal/config"
	"QuizGazer/internal/modules/knowledge/domain/repository"
	"QuizGazer/pkg/util"
	"QuizGazer/pkg/xerr"
)

// Client /v1/rerank 风格重排服务的 HTTP 客户端
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	backoff    util.BackoffPolicy
	httpClient *http.Client
}

func NewClient(conf config.RerankerConfig) *Client {
	timeout := 30 * time.Second
	if conf.TimeoutSeconds > 0 {
		timeout = time.Duration(conf.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(conf.BaseURL), "/"),
		apiKey:     strings.TrimSpace(conf.APIKey),
		model:      strings.TrimSpace(conf.Model),
		backoff:    util.DefaultBackoff(conf.RetryTimes),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 调用重排服务，按候选相关度返回打分。
// 非 2xx 与超时按指数退避重试，用尽后返回 RerankAPI 错误。
func (c *Client) Rerank(ctx context.Context, query string, documents []string) ([]repository.RerankScore, error) {
	if c.baseURL == "" {
		return nil, xerr.New(xerr.RerankAPI, "reranker base url not configured")
	}
	if len(documents) == 0 {
		return []repository.RerankScore{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:           c.model,
		Query:           query,
		Documents:       documents,
		TopN:            len(documents),
		ReturnDocuments: false,
	})
	if err != nil {
		return nil, err
	}

	var scores []repository.RerankScore
	err = util.Retry(ctx, c.backoff, func(ctx context.Context) error {
		res, callErr := c.doCall(ctx, body)
		if callErr != nil {
			return callErr
		}
		scores = res
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, xerr.New(xerr.RerankAPI, util.ScrubErrMsg(fmt.Sprintf("rerank request failed: %v", err)))
	}
	return scores, nil
}

func (c *Client) doCall(ctx context.Context, body []byte) ([]repository.RerankScore, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rerank service returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]repository.RerankScore, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		scores = append(scores, repository.RerankScore{Index: r.Index, Score: r.RelevanceScore})
	}
	return scores, nil
}

var _ repository.Reranker = (*Client)(nil)
