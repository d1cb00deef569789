package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PriceSource fetches the current numeric value for a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// StaticPriceSource returns a fixed value for every symbol. It stands in for
// a market feed in demos and tests.
type StaticPriceSource float64

// Price implements PriceSource.
func (s StaticPriceSource) Price(context.Context, string) (float64, error) {
	return float64(s), nil
}

// HTTPPriceSource reads a price from a JSON document. The URL may contain a
// {symbol} placeholder; Field is a dotted path into the document, e.g.
// "solana.usd".
type HTTPPriceSource struct {
	URL    string
	Field  string
	Client *http.Client
}

// Price implements PriceSource.
func (s *HTTPPriceSource) Price(ctx context.Context, symbol string) (float64, error) {
	endpoint := strings.ReplaceAll(s.URL, "{symbol}", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("构建行情请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求行情失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("行情接口返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("解析行情响应失败: %w", err)
	}
	return lookupNumber(doc, s.Field)
}

func lookupNumber(doc any, path string) (float64, error) {
	current := doc
	if path != "" {
		for _, key := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return 0, fmt.Errorf("字段 %s 不是对象", key)
			}
			current, ok = obj[key]
			if !ok {
				return 0, fmt.Errorf("行情响应缺少字段 %s", path)
			}
		}
	}
	switch v := current.(type) {
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("字段 %s 不是数值", path)
	}
}

// Threshold predicts whether a fetched value exceeds a fixed threshold. Given
// the fetched value the result is deterministic.
type Threshold struct {
	source     PriceSource
	symbol     string
	threshold  float64
	confidence int
}

// NewThreshold builds the threshold variant.
func NewThreshold(source PriceSource, symbol string, threshold float64, confidence int) (*Threshold, error) {
	if source == nil {
		return nil, errors.New("未配置行情数据源")
	}
	if confidence < 0 || confidence > MaxConfidence {
		return nil, fmt.Errorf("置信度 %d 超出 0-100", confidence)
	}
	return &Threshold{source: source, symbol: symbol, threshold: threshold, confidence: confidence}, nil
}

// Name implements Predictor.
func (t *Threshold) Name() string { return "threshold" }

// Predict implements Predictor.
func (t *Threshold) Predict(ctx context.Context, query string) (Prediction, error) {
	price, err := t.source.Price(ctx, t.symbol)
	if err != nil {
		return Prediction{}, Unavailable(err, fmt.Sprintf("获取 %s 行情失败", t.symbol))
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Prediction{}, Unavailable(nil, fmt.Sprintf("%s 行情不是有限数值", t.symbol))
	}
	evidence := strconv.FormatFloat(price, 'f', -1, 64)
	limit := strconv.FormatFloat(t.threshold, 'f', -1, 64)
	return New(price > t.threshold, t.confidence, ProofOf(t.Name(), query, t.symbol, evidence, limit))
}
