package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leadmap/campaign-engine/internal/domain"
)

const defaultSparkPostURL = "https://api.sparkpost.com/api/v1"

// SparkPostSender delivers through the SparkPost transmissions API.
type SparkPostSender struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewSparkPostSender builds a SparkPost sender. baseURL defaults to the
// public API when empty.
func NewSparkPostSender(apiKey, baseURL string, timeout time.Duration) *SparkPostSender {
	if baseURL == "" {
		baseURL = defaultSparkPostURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SparkPostSender{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *SparkPostSender) Send(ctx context.Context, mailbox *domain.Mailbox, msg *Message) (*Result, error) {
	payload := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.To}},
		},
		"content": map[string]interface{}{
			"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"subject": msg.Subject,
			"html":    msg.HTML,
		},
		"metadata": map[string]string{
			"campaign_id":  msg.CampaignID,
			"recipient_id": msg.RecipientID,
		},
		"options": map[string]interface{}{
			// The engine injects its own pixel and link wrapping.
			"open_tracking":  false,
			"click_tracking": false,
		},
	}
	if msg.ReplyTo != "" {
		payload["content"].(map[string]interface{})["reply_to"] = msg.ReplyTo
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Result{Reason: fmt.Sprintf("sparkpost request: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Result{
			Reason: fmt.Sprintf("sparkpost status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)),
			// 4xx responses are request problems a retry will repeat.
			Permanent: resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests,
		}, nil
	}

	var out struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	json.NewDecoder(resp.Body).Decode(&out)

	return &Result{Success: true, ProviderMessageID: out.Results.ID}, nil
}
