// Package datasus implements the external health-data provider client for
// the SIM, SINAN and SINASC systems.
package datasus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"epipanel/internal/dataset"
	"epipanel/internal/httpclient"
	"epipanel/internal/provider"
)

// maxBodySize caps a single dataset response. Municipal yearly partitions
// are small; anything larger is a provider malfunction.
const maxBodySize = 64 * 1024 * 1024

// Client fetches municipality-filtered yearly datasets over HTTP. Responses
// are JSON arrays of flat records.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client against baseURL. If httpClient is nil a default
// tuned client is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Source implements provider.Source.
func (c *Client) Source() dataset.Source {
	return dataset.SourceDATASUS
}

// FetchDataset implements provider.Fetcher.
func (c *Client) FetchDataset(ctx context.Context, system dataset.System, municipality string, year int) (*dataset.Table, error) {
	if !system.Valid() {
		return nil, provider.NewUnavailableError(system, municipality, year, fmt.Errorf("unknown system %q", system))
	}

	u := fmt.Sprintf("%s/%s/%d?%s", c.baseURL, strings.ToLower(string(system)), year,
		url.Values{"municipio": {municipality}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, provider.NewUnavailableError(system, municipality, year, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.Classify(system, municipality, year, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewUnavailableError(system, municipality, year,
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u))
	}

	limited := io.LimitReader(resp.Body, maxBodySize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, provider.Classify(system, municipality, year, err)
	}
	if len(raw) > maxBodySize {
		return nil, provider.NewUnavailableError(system, municipality, year,
			fmt.Errorf("response body exceeds %d bytes", maxBodySize))
	}

	table, err := parseRecords(raw)
	if err != nil {
		return nil, provider.NewUnavailableError(system, municipality, year, err)
	}
	return table, nil
}

// parseRecords converts a JSON array of flat objects into a table. Column
// order follows first appearance across records.
func parseRecords(raw []byte) (*dataset.Table, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	parsed := gjson.ParseBytes(raw)

	// Some deployments wrap the records in a "registros" envelope.
	records := parsed
	if parsed.IsObject() {
		records = parsed.Get("registros")
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("response is not a record array")
	}

	table := &dataset.Table{}
	seen := make(map[string]bool)
	var parseErr error

	records.ForEach(func(_, rec gjson.Result) bool {
		if !rec.IsObject() {
			parseErr = fmt.Errorf("record is not an object: %s", rec.Raw)
			return false
		}
		row := make(map[string]any)
		rec.ForEach(func(col, val gjson.Result) bool {
			name := col.String()
			if !seen[name] {
				seen[name] = true
				table.Columns = append(table.Columns, name)
			}
			row[name] = scalarValue(val)
			return true
		})
		table.Append(row)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(table.Columns) == 0 && len(table.Rows) > 0 {
		return nil, fmt.Errorf("records carry no columns")
	}
	return table, nil
}

// scalarValue maps a JSON value to the scalar types the table model allows.
// Nested structures are kept as their raw JSON text.
func scalarValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		// Preserve integers exactly where possible.
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return i
		}
		return v.Float()
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}
