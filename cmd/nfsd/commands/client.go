package commands

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 35 * time.Second}

// adminCall sends one request to the admin channel and returns the body of
// a 2xx reply.
func adminCall(method, path string, body io.Reader) (string, error) {
	url := "http://" + adminAddr + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("admin channel %s: %w", adminAddr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
