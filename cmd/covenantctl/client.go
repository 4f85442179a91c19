package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/covenant-labs/covenant/internal/signer"
)

const maxRetries = 4

// apiError is the JSON error body returned by the ledger API.
type apiError struct {
	Error string `json:"error"`
}

// doRequest submits one API call, retrying transport failures and 5xx
// responses with exponential backoff. The ledger itself never retries;
// retrying is the caller's job, and each attempt is signed fresh so the
// timestamp stays inside the verification window. 4xx responses are
// permanent: the ledger rejected the instruction and a retry cannot help.
func doRequest(method, path string, payload any, priv ed25519.PrivateKey, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	operation := func() error {
		req, err := http.NewRequest(method, serverURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if priv != nil {
			pub := priv.Public().(ed25519.PublicKey)
			signer.SignRequest(req, pub, priv, body)
		}
		if adminSecret != "" {
			req.Header.Set("X-Admin-Secret", adminSecret)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode >= 400 {
			var apiErr apiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
				return backoff.Permanent(fmt.Errorf("%s", apiErr.Error))
			}
			return backoff.Permanent(fmt.Errorf("request failed with status %d", resp.StatusCode))
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
	), maxRetries)
	return backoff.Retry(operation, b)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
