package prediction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// HeadlineSource collects text snippets about a topic.
type HeadlineSource interface {
	Headlines(ctx context.Context, topic string) ([]string, error)
}

// Scorer returns the polarity of a text in [-1, 1].
type Scorer interface {
	Polarity(text string) float64
}

// Sentiment averages the polarity of the collected snippets. The sign of the
// mean maps to the outcome and its magnitude, scaled to 0-100 and capped, to
// the confidence.
type Sentiment struct {
	source HeadlineSource
	scorer Scorer
	topic  string
}

// NewSentiment builds the sentiment variant. When topic is empty the query
// itself is used as the search topic.
func NewSentiment(source HeadlineSource, scorer Scorer, topic string) (*Sentiment, error) {
	if source == nil {
		return nil, errors.New("未配置新闻数据源")
	}
	if scorer == nil {
		scorer = NewLexiconScorer()
	}
	return &Sentiment{source: source, scorer: scorer, topic: strings.TrimSpace(topic)}, nil
}

// Name implements Predictor.
func (s *Sentiment) Name() string { return "sentiment" }

// Predict implements Predictor.
func (s *Sentiment) Predict(ctx context.Context, query string) (Prediction, error) {
	topic := s.topic
	if topic == "" {
		topic = strings.TrimSpace(query)
	}

	headlines, err := s.source.Headlines(ctx, topic)
	if err != nil {
		return Prediction{}, Unavailable(err, fmt.Sprintf("获取 %q 相关新闻失败", topic))
	}
	if len(headlines) == 0 {
		return Prediction{}, Unavailable(nil, fmt.Sprintf("没有找到 %q 相关新闻", topic))
	}

	var sum float64
	for _, headline := range headlines {
		sum += clampPolarity(s.scorer.Polarity(headline))
	}
	mean := sum / float64(len(headlines))

	confidence := int(math.Abs(mean) * 100)
	if confidence > MaxConfidence {
		confidence = MaxConfidence
	}

	evidence := []string{topic, strconv.FormatFloat(mean, 'f', 6, 64)}
	evidence = append(evidence, headlines...)
	return New(mean > 0, confidence, ProofOf(s.Name(), query, evidence...))
}

func clampPolarity(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// HTTPHeadlineSource scrapes the text of every <h3> element from a search
// results page. SearchURL may contain a {topic} placeholder which is replaced
// by the query-escaped topic.
type HTTPHeadlineSource struct {
	SearchURL string
	UserAgent string
	Client    *http.Client
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36"

// Headlines implements HeadlineSource.
func (h *HTTPHeadlineSource) Headlines(ctx context.Context, topic string) ([]string, error) {
	if strings.TrimSpace(h.SearchURL) == "" {
		return nil, errors.New("未配置新闻搜索地址")
	}
	endpoint := strings.ReplaceAll(h.SearchURL, "{topic}", url.QueryEscape(topic))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建新闻请求失败: %w", err)
	}
	ua := h.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求新闻页面失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("新闻页面返回错误状态 %d", resp.StatusCode)
	}
	return ExtractHeadlines(io.LimitReader(resp.Body, 4<<20))
}

// ExtractHeadlines returns the trimmed, non-empty text of every <h3> element.
func ExtractHeadlines(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("解析新闻页面失败: %w", err)
	}
	var headlines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "h3" {
			if text := strings.Join(strings.Fields(textOf(n)), " "); text != "" {
				headlines = append(headlines, text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return headlines, nil
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(textOf(child))
		b.WriteByte(' ')
	}
	return b.String()
}
