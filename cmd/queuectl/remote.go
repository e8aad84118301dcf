package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"terraintake/internal/notification"
	"terraintake/internal/util"
)

const (
	remoteSubject = "queuectl"
	remoteTimeout = 2 * time.Minute
)

type remoteDrainResponse struct {
	notification.DrainResult
	Skipped bool `json:"skipped"`
}

type remoteError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// remoteDrain asks a running API to drain, so the pass goes through that
// process's overlap guard instead of racing its scheduler.
func remoteDrain(ctx context.Context, baseURL, secret string) (notification.DrainResult, bool, error) {
	token, err := util.GenerateToken(remoteSubject, true, secret, time.Minute)
	if err != nil {
		return notification.DrainResult{}, false, err
	}

	url := strings.TrimRight(baseURL, "/") + "/api/v1/email-queue/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return notification.DrainResult{}, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: remoteTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return notification.DrainResult{}, false, fmt.Errorf("request drain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body remoteError
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
			return notification.DrainResult{}, false, fmt.Errorf("drain rejected (%d %s): %s", resp.StatusCode, body.Name, body.Message)
		}
		return notification.DrainResult{}, false, fmt.Errorf("drain rejected: %s", resp.Status)
	}

	var out remoteDrainResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return notification.DrainResult{}, false, fmt.Errorf("decode drain response: %w", err)
	}
	return out.DrainResult, out.Skipped, nil
}
