// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package uploaderhttp is a reference HTTP implementation of
// runner.Uploader, plus a matching gorilla/mux ingestion server for
// local testing and demos. Wire format: POST a JSON body
// {"name": "<record-id>", "ciphertext": "<base64>"} to the endpoint's
// URL; a 204 response means the record was accepted.
package uploaderhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/equalitie/ouinet-telemetry/internal/logging"
	"github.com/equalitie/ouinet-telemetry/internal/recordstore"
)

type wireRecord struct {
	Name       string `json:"name"`
	Ciphertext []byte `json:"ciphertext"`
}

// Uploader posts records to a fixed endpoint URL over HTTP.
type Uploader struct {
	URL    string
	Client *http.Client
	log    *logging.Logger
}

// New returns an Uploader posting to url with a default 30s client
// timeout.
func New(url string) *Uploader {
	return &Uploader{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
		log:    logging.WithComponent("uploaderhttp"),
	}
}

// Process implements runner.Uploader: posts the record, returning true
// only on a 204 No Content response.
func (u *Uploader) Process(ctx context.Context, record recordstore.StoredRecord) bool {
	body, err := json.Marshal(wireRecord{Name: record.ID.String(), Ciphertext: record.Ciphertext})
	if err != nil {
		u.log.WithError(err).Warn("marshal record for upload", "id", record.ID.String())
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		u.log.WithError(err).Warn("build upload request", "id", record.ID.String())
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		u.log.WithError(err).Warn("upload request failed", "id", record.ID.String())
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		u.log.Warn("upload rejected", "id", record.ID.String(), "status", resp.StatusCode)
		return false
	}
	return true
}
