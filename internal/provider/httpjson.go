package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// apiErrorBody covers the error envelopes of OpenAI-compatible and Anthropic APIs.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// maxResponseBytes caps a provider reply. Speech replies are the largest.
var maxResponseBytes int64 = 32 << 20

// post sends a JSON body and returns the raw response body of a 200 reply.
func post(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) ([]byte, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(provider, KindTransport, fmt.Errorf("failed to marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, NewError(provider, KindTransport, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapCallError(ctx, provider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, wrapCallError(ctx, provider, fmt.Errorf("failed to read response: %w", err))
	}
	if int64(len(respBody)) > maxResponseBytes {
		return nil, NewError(provider, KindTransport, fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		var errorResp apiErrorBody
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error.Message != "" {
			msg = errorResp.Error.Message
			code, _ := errorResp.Error.Code.(string)
			if classifyQuotaCode(code) || classifyQuotaCode(errorResp.Error.Type) {
				kind = KindQuota
			}
		}
		return nil, &Error{Provider: provider, Kind: kind, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	return respBody, nil
}

// postJSON is post followed by decoding the reply into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	respBody, err := post(ctx, client, provider, url, headers, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return NewError(provider, KindTransport, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
