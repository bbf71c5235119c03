package export

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/linkybridge/linkybridge/internal/config"
)

// socket is the connection surface the client needs from a websocket.
type socket interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type dialFunc func() (socket, error)

// StatPoint is one hourly statistics sample. Sum carries the running total
// up to and including the point; the recorder's format is cumulative.
type StatPoint struct {
	Start string  `json:"start"`
	State float64 `json:"state"`
	Sum   float64 `json:"sum"`
}

// StatMetadata describes one imported statistic series.
type StatMetadata struct {
	HasMean           bool   `json:"has_mean"`
	HasSum            bool   `json:"has_sum"`
	Name              string `json:"name"`
	Source            string `json:"source"`
	StatisticID       string `json:"statistic_id"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

type haResponse struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// HAClient speaks the Home Assistant WebSocket API: one JSON request per
// send, one JSON response correlated by a monotonically increasing id.
// Reconnects are a bounded constant-delay retry loop; once the attempts are
// exhausted the failure surfaces to the caller.
type HAClient struct {
	dial       dialFunc
	conn       socket
	token      string
	id         int
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewHAClient builds a client for the configured Home Assistant instance.
// No connection is opened until the first send.
func NewHAClient(cfg config.HAWSConfig, log *slog.Logger) *HAClient {
	scheme := "ws"
	dialer := websocket.DefaultDialer
	if cfg.SSL {
		scheme = "wss"
		dialer = &websocket.Dialer{
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		}
	}
	uri := fmt.Sprintf("%s://%s/api/websocket", scheme, cfg.URL)

	return &HAClient{
		dial: func() (socket, error) {
			conn, _, err := dialer.Dial(uri, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		token:      cfg.Token,
		id:         1,
		maxRetries: cfg.GetMaxRetries(),
		retryDelay: 5 * time.Second,
		log:        log,
	}
}

func (c *HAClient) connect() error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("dialing: %w", err)
	}

	var hello haResponse
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("reading server hello: %w", err)
	}

	if hello.Type == "auth_required" {
		if err := conn.WriteJSON(map[string]interface{}{"type": "auth", "access_token": c.token}); err != nil {
			conn.Close()
			return fmt.Errorf("sending auth: %w", err)
		}
		var authResp haResponse
		if err := conn.ReadJSON(&authResp); err != nil {
			conn.Close()
			return fmt.Errorf("reading auth response: %w", err)
		}
		if authResp.Type != "auth_ok" {
			conn.Close()
			return fmt.Errorf("authentication rejected, check url and token")
		}
	}

	c.conn = conn
	return nil
}

// ensureConnection connects if needed, retrying with a constant delay up to
// maxRetries attempts in total.
func (c *HAClient) ensureConnection() error {
	if c.conn != nil {
		return nil
	}

	attempt := 0
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries-1))
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			c.log.Warn("reconnecting to Home Assistant", "attempt", attempt, "max", c.maxRetries)
		}
		return c.connect()
	}, policy)
	if err != nil {
		return fmt.Errorf("connecting to Home Assistant: %w", err)
	}
	return nil
}

// send submits one request and waits for its response. A broken connection
// gets one reconnect-and-resend before the error surfaces.
func (c *HAClient) send(msg map[string]interface{}) (*haResponse, error) {
	for attempt := 0; ; attempt++ {
		if err := c.ensureConnection(); err != nil {
			return nil, err
		}

		msg["id"] = c.id
		err := c.conn.WriteJSON(msg)
		var resp haResponse
		if err == nil {
			err = c.conn.ReadJSON(&resp)
		}
		if err != nil {
			c.conn.Close()
			c.conn = nil
			if attempt == 0 {
				c.log.Warn("connection lost during send, reconnecting", "error", err)
				continue
			}
			return nil, fmt.Errorf("sending after reconnect: %w", err)
		}

		c.id++
		if resp.Type == "result" && !resp.Success {
			c.log.Error("request rejected", "type", msg["type"], "response", string(resp.Result))
			return &resp, fmt.Errorf("request %q rejected by Home Assistant", msg["type"])
		}
		return &resp, nil
	}
}

// ListStatisticIDs returns the sum-type statistic ids already present,
// filtered by prefix.
func (c *HAClient) ListStatisticIDs(prefix string) ([]string, error) {
	resp, err := c.send(map[string]interface{}{
		"type":           "recorder/list_statistic_ids",
		"statistic_type": "sum",
	})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		StatisticID string `json:"statistic_id"`
	}
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("parsing statistic ids: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if strings.HasPrefix(e.StatisticID, prefix) {
			ids = append(ids, e.StatisticID)
		}
	}
	return ids, nil
}

// ClearStatistics removes previously imported statistic series.
func (c *HAClient) ClearStatistics(ids []string) error {
	for _, id := range ids {
		c.log.Info("clearing recorder statistics", "statistic_id", id)
	}
	_, err := c.send(map[string]interface{}{
		"type":          "recorder/clear_statistics",
		"statistic_ids": ids,
	})
	return err
}

// StatisticsCount returns the number of hourly points the recorder already
// holds for the given ids in [begin, end].
func (c *HAClient) StatisticsCount(ids []string, begin, end time.Time) (int, error) {
	resp, err := c.send(map[string]interface{}{
		"type":          "recorder/statistics_during_period",
		"start_time":    begin.Format(time.RFC3339),
		"end_time":      end.Format(time.RFC3339),
		"statistic_ids": ids,
		"period":        "hour",
	})
	if err != nil {
		return 0, err
	}

	var periods map[string][]json.RawMessage
	if err := json.Unmarshal(resp.Result, &periods); err != nil {
		return 0, fmt.Errorf("parsing statistics period: %w", err)
	}

	total := 0
	for _, points := range periods {
		total += len(points)
	}
	return total, nil
}

// ImportStatistics submits one batch of points for a series.
func (c *HAClient) ImportStatistics(meta StatMetadata, stats []StatPoint) error {
	_, err := c.send(map[string]interface{}{
		"type":     "recorder/import_statistics",
		"metadata": meta,
		"stats":    stats,
	})
	return err
}

// Close closes the underlying connection if one is open.
func (c *HAClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
