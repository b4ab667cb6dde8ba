// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package webclient

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Error bodies are truncated so a misbehaving upstream cannot blow up
// log lines or memory.
const maxErrorBodySize = 4096

// ParseJsonResponse decodes a broker JSON response body into v. The caller
// remains responsible for closing the body. A response claiming a non-JSON
// content type is rejected before decoding, so HTML error pages never reach
// the decimal parser.
func ParseJsonResponse(resp *http.Response, v any) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("query returned status %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
