package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shohag/pushbridge/internal/config"
	"github.com/shohag/pushbridge/internal/models"
)

// FCMGateway sends each batch item as one multicast call against the FCM
// legacy HTTP API, addressing all of the item's pending tokens.
type FCMGateway struct {
	url       string
	serverKey string
	client    *http.Client
}

func NewFCMGateway(cfg config.GatewayConfig) *FCMGateway {
	return &FCMGateway{
		url:       cfg.URL,
		serverKey: cfg.ServerKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type fcmRequest struct {
	RegistrationIDs []string         `json:"registration_ids"`
	Notification    *fcmNotification `json:"notification,omitempty"`
	Data            json.RawMessage  `json:"data,omitempty"`
	Priority        string           `json:"priority"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

// notificationFrom lifts the payload's title/body into an FCM notification
// block so the message surfaces on screen rather than staying data-only.
// Payloads without either field stay data-only.
func notificationFrom(payload json.RawMessage) *fcmNotification {
	var fields struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	if fields.Title == "" && fields.Body == "" {
		return nil
	}
	return &fcmNotification{
		Title: fields.Title,
		Body:  fields.Body,
		Sound: "default",
	}
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"results"`
}

// Permanent rejections per the FCM error table; anything else the provider
// reports is treated as transient.
func fcmPermanent(code string) bool {
	switch code {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return true
	}
	return false
}

// Send calls the provider once per batch item. When a later item's call
// fails, results already obtained from completed calls are returned
// alongside the error so their tokens are not re-sent.
func (g *FCMGateway) Send(ctx context.Context, items []models.BatchItem) (map[models.Token]models.TokenResult, error) {
	results := make(map[models.Token]models.TokenResult)

	for _, item := range items {
		perToken, err := g.sendOne(ctx, item)
		if err != nil {
			return results, err
		}
		for tok, res := range perToken {
			results[tok] = res
		}
	}
	return results, nil
}

func (g *FCMGateway) sendOne(ctx context.Context, item models.BatchItem) (map[models.Token]models.TokenResult, error) {
	ids := make([]string, len(item.Pending))
	for n, tok := range item.Pending {
		ids[n] = string(tok)
	}

	body, err := json.Marshal(fcmRequest{
		RegistrationIDs: ids,
		Notification:    notificationFrom(item.Request.Payload),
		Data:            item.Request.Payload,
		Priority:        "high",
	})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+g.serverKey)
	req.Header.Set("User-Agent", "PushBridge/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Whole-call transient: the worker retries every pending token.
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed fcmResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if len(parsed.Results) != len(item.Pending) {
		return nil, fmt.Errorf("gateway returned %d results for %d tokens", len(parsed.Results), len(item.Pending))
	}

	out := make(map[models.Token]models.TokenResult, len(item.Pending))
	for n, tok := range item.Pending {
		r := parsed.Results[n]
		switch {
		case r.Error == "":
			out[tok] = models.TokenResult{Token: tok, Status: models.StatusDelivered}
		case fcmPermanent(r.Error):
			out[tok] = models.TokenResult{Token: tok, Status: models.StatusPermanent, Reason: r.Error}
		default:
			out[tok] = models.TokenResult{Token: tok, Status: models.StatusRetryable, Reason: r.Error}
		}
	}
	return out, nil
}
