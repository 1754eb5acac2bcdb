// Package vm provides a client for the VictoriaMetrics/Prometheus query API.
// It serves the historical samples predictive levels are computed from.
package vm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"checkengine/internal/config"
)

// Client is a client for the VictoriaMetrics/Prometheus API.
type Client struct {
	endpoint   string             // API endpoint
	timeout    time.Duration      // Request timeout
	retry      config.RetryConfig // Retry configuration
	httpClient *resty.Client      // HTTP client
	logger     zerolog.Logger     // Logger
}

// NewClient creates a new VictoriaMetrics/Prometheus API client.
func NewClient(cfg *config.VictoriaMetricsConfig, retryCfg *config.RetryConfig, logger zerolog.Logger) *Client {
	// Set default timeout if not specified
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// Set default retry config if not specified
	retry := config.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
	}
	if retryCfg != nil {
		retry = *retryCfg
	}

	httpClient := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetRetryCount(retry.MaxRetries).
		SetRetryWaitTime(retry.BaseDelay).
		SetRetryMaxWaitTime(retry.BaseDelay * 8). // Max wait time for exponential backoff
		AddRetryCondition(retryCondition)

	return &Client{
		endpoint:   cfg.Endpoint,
		timeout:    timeout,
		retry:      retry,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "vm-client").Logger(),
	}
}

// retryCondition determines whether a request should be retried.
// Only retry on timeout, 5xx errors, or connection failures.
func retryCondition(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp != nil && resp.StatusCode() >= 500 {
		return true
	}
	return false
}

// Query executes an instant query at the /api/v1/query endpoint.
func (c *Client) Query(ctx context.Context, query string) (*QueryResponse, error) {
	return c.do(ctx, "/api/v1/query", map[string]string{"query": query})
}

// QueryRange executes a range query at the /api/v1/query_range endpoint.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*QueryResponse, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %s is not after start %s", end, start)
	}
	if step <= 0 {
		return nil, fmt.Errorf("invalid step %s", step)
	}
	return c.do(ctx, "/api/v1/query_range", map[string]string{
		"query": query,
		"start": strconv.FormatInt(start.Unix(), 10),
		"end":   strconv.FormatInt(end.Unix(), 10),
		"step":  strconv.FormatInt(int64(step/time.Second), 10) + "s",
	})
}

// QuerySeries executes a range query and returns the parsed series.
func (c *Client) QuerySeries(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	resp, err := c.QueryRange(ctx, query, start, end, step)
	if err != nil {
		return nil, err
	}
	return ParseSeries(resp)
}

func (c *Client) do(ctx context.Context, path string, queryParams map[string]string) (*QueryResponse, error) {
	query := queryParams["query"]
	c.logger.Debug().
		Str("path", path).
		Str("query", query).
		Msg("executing PromQL query")

	var result QueryResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(queryParams).
		SetResult(&result).
		Get(path)

	if err != nil {
		c.logger.Error().Err(err).Str("query", query).Msg("failed to execute query")
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error().
			Int("status_code", resp.StatusCode()).
			Str("body", string(resp.Body())).
			Str("query", query).
			Msg("VM API returned non-200 status")
		return nil, fmt.Errorf("VM API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	if !result.IsSuccess() {
		c.logger.Error().
			Str("error_type", result.ErrorType).
			Str("error", result.Error).
			Str("query", query).
			Msg("VM API returned error")
		return nil, fmt.Errorf("VM API error [%s]: %s", result.ErrorType, result.Error)
	}

	if len(result.Warnings) > 0 {
		c.logger.Warn().
			Strs("warnings", result.Warnings).
			Str("query", query).
			Msg("VM API returned warnings")
	}

	c.logger.Debug().
		Str("result_type", result.Data.ResultType).
		Int("result_count", len(result.Data.Result)).
		Msg("query executed successfully")

	return &result, nil
}

// LabelFilter restricts a query to series with matching labels.
type LabelFilter struct {
	Equal map[string]string   // 精确匹配（AND 关系）
	OneOf map[string][]string // 任一匹配（正则 OR）
}

// IsEmpty returns true if no matchers are set.
func (f *LabelFilter) IsEmpty() bool {
	return f == nil || (len(f.Equal) == 0 && len(f.OneOf) == 0)
}

// Apply injects the filter's label matchers into every selector of query.
func (f *LabelFilter) Apply(query string) string {
	if f.IsEmpty() {
		return query
	}

	var matchers []string
	for _, k := range sortedKeys(f.OneOf) {
		escaped := make([]string, 0, len(f.OneOf[k]))
		for _, v := range f.OneOf[k] {
			escaped = append(escaped, escapeRegex(v))
		}
		matchers = append(matchers, fmt.Sprintf(`%s=~"%s"`, k, strings.Join(escaped, "|")))
	}
	for _, k := range sortedKeys(f.Equal) {
		matchers = append(matchers, fmt.Sprintf(`%s="%s"`, k, strings.ReplaceAll(f.Equal[k], `"`, `\"`)))
	}
	return injectMatchersToQuery(query, matchers)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var selectorPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_:]*)(\{[^}]*\})?`)

var promqlKeywords = map[string]bool{
	"by": true, "without": true, "on": true, "ignoring": true, "group_left": true, "group_right": true,
	"offset": true, "bool": true, "and": true, "or": true, "unless": true,
}

var labelListKeywords = map[string]bool{
	"by": true, "without": true, "on": true, "ignoring": true, "group_left": true, "group_right": true,
}

// aggregations may be followed by a by/without clause instead of a paren.
var aggregations = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true, "group": true,
	"stddev": true, "stdvar": true, "topk": true, "bottomk": true, "quantile": true, "count_values": true,
}

// injectMatchersToQuery injects label matchers into every series selector of a PromQL query.
// Existing label selectors are extended. Function names, keywords, label lists, durations,
// string literals and numbers are left alone.
func injectMatchersToQuery(query string, matchers []string) string {
	if len(matchers) == 0 {
		return query
	}

	matcherStr := strings.Join(matchers, ", ")
	protected := protectedMask(query)

	var sb strings.Builder
	last := 0
	for _, loc := range selectorPattern.FindAllStringSubmatchIndex(query, -1) {
		start, end := loc[0], loc[1]
		name := query[loc[2]:loc[3]]
		hasSelector := loc[4] != -1
		switch {
		case protected[start]:
			continue
		case start > 0 && (isDigit(query[start-1]) || query[start-1] == '.'):
			continue
		case !hasSelector && (promqlKeywords[name] || aggregations[name] || followedByParen(query, end)):
			continue
		}

		sb.WriteString(query[last:start])
		if !hasSelector {
			sb.WriteString(name + "{" + matcherStr + "}")
		} else if existing := query[loc[4]+1 : loc[5]-1]; strings.TrimSpace(existing) == "" {
			sb.WriteString(name + "{" + matcherStr + "}")
		} else {
			sb.WriteString(name + "{" + existing + ", " + matcherStr + "}")
		}
		last = end
	}
	sb.WriteString(query[last:])
	return sb.String()
}

// protectedMask marks bytes inside string literals, label selectors, range brackets
// and label lists of aggregation modifiers.
func protectedMask(query string) []bool {
	mask := make([]bool, len(query))
	var (
		inQuote   byte
		braces    int
		brackets  int
		parens    []bool
		labelList int
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		mask[i] = inQuote != 0 || braces > 0 || brackets > 0 || labelList > 0
		switch {
		case inQuote != 0:
			if c == '\\' && i+1 < len(query) {
				i++
				mask[i] = true
			} else if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			inQuote = c
			mask[i] = true
		case c == '{':
			braces++
		case c == '}':
			braces--
		case c == '[':
			brackets++
		case c == ']':
			brackets--
		case c == '(':
			isLabels := labelListKeywords[precedingWord(query, i)]
			parens = append(parens, isLabels)
			if isLabels {
				labelList++
			}
		case c == ')':
			if n := len(parens); n > 0 {
				if parens[n-1] {
					labelList--
				}
				parens = parens[:n-1]
			}
		}
	}
	return mask
}

func precedingWord(query string, pos int) string {
	end := pos
	for end > 0 && query[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && (isDigit(query[start-1]) || isLetter(query[start-1]) || query[start-1] == '_') {
		start--
	}
	return query[start:end]
}

func followedByParen(query string, pos int) bool {
	for pos < len(query) && query[pos] == ' ' {
		pos++
	}
	return pos < len(query) && query[pos] == '('
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// escapeRegex escapes special regex characters in a string.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, char := range special {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}
