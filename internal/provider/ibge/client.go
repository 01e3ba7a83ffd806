// Package ibge implements the geospatial reference client against the IBGE
// public APIs: administrative metadata from the localidades service and
// municipality boundary geometry from the malhas service.
package ibge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"epipanel/internal/httpclient"
)

// Default public API endpoints.
const (
	DefaultLocalidadesURL = "https://servicodados.ibge.gov.br/api/v1/localidades"
	DefaultMalhasURL      = "https://servicodados.ibge.gov.br/api/v3/malhas"
)

const maxBodySize = 32 * 1024 * 1024

// Municipality is the administrative metadata for one municipality.
type Municipality struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	UF          string `json:"uf"`
	Mesoregion  string `json:"mesoregion"`
	Microregion string `json:"microregion"`
}

// Region is one administrative region (mesoregion or microregion) of a UF.
type Region struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Client talks to the IBGE localidades and malhas services.
type Client struct {
	localidadesURL string
	malhasURL      string
	httpClient     *http.Client
}

// New creates a client. Empty URLs fall back to the public endpoints; a nil
// httpClient falls back to the tuned default.
func New(localidadesURL, malhasURL string, httpClient *http.Client) *Client {
	if localidadesURL == "" {
		localidadesURL = DefaultLocalidadesURL
	}
	if malhasURL == "" {
		malhasURL = DefaultMalhasURL
	}
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		localidadesURL: strings.TrimRight(localidadesURL, "/"),
		malhasURL:      strings.TrimRight(malhasURL, "/"),
		httpClient:     httpClient,
	}
}

// MunicipalityInfo returns the administrative metadata for an IBGE
// municipality code.
func (c *Client) MunicipalityInfo(ctx context.Context, code string) (*Municipality, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/municipios/%s", c.localidadesURL, code))
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() || doc.Get("id").String() == "" {
		return nil, fmt.Errorf("municipality %s not found", code)
	}
	return &Municipality{
		Code:        doc.Get("id").String(),
		Name:        doc.Get("nome").String(),
		UF:          doc.Get("microrregiao.mesorregiao.UF.sigla").String(),
		Mesoregion:  doc.Get("microrregiao.mesorregiao.nome").String(),
		Microregion: doc.Get("microrregiao.nome").String(),
	}, nil
}

// Municipalities lists every municipality of a UF.
func (c *Client) Municipalities(ctx context.Context, uf string) ([]Municipality, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/estados/%s/municipios", c.localidadesURL, uf))
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, fmt.Errorf("unexpected municipality list response for UF %s", uf)
	}
	var out []Municipality
	doc.ForEach(func(_, m gjson.Result) bool {
		out = append(out, Municipality{
			Code:        m.Get("id").String(),
			Name:        m.Get("nome").String(),
			UF:          strings.ToUpper(uf),
			Mesoregion:  m.Get("microrregiao.mesorregiao.nome").String(),
			Microregion: m.Get("microrregiao.nome").String(),
		})
		return true
	})
	return out, nil
}

// Mesoregions lists the mesoregions of a UF.
func (c *Client) Mesoregions(ctx context.Context, uf string) ([]Region, error) {
	return c.regions(ctx, uf, "mesorregioes")
}

// Microregions lists the microregions of a UF.
func (c *Client) Microregions(ctx context.Context, uf string) ([]Region, error) {
	return c.regions(ctx, uf, "microrregioes")
}

func (c *Client) regions(ctx context.Context, uf, kind string) ([]Region, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/estados/%s/%s", c.localidadesURL, uf, kind))
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, fmt.Errorf("unexpected %s response for UF %s", kind, uf)
	}
	var out []Region
	doc.ForEach(func(_, r gjson.Result) bool {
		out = append(out, Region{
			Code: r.Get("id").String(),
			Name: r.Get("nome").String(),
		})
		return true
	})
	return out, nil
}

// Boundaries fetches the GeoJSON boundary geometry for a municipality. The
// raw document is returned as-is after validation so the consumer can hand
// it straight to a map renderer.
func (c *Client) Boundaries(ctx context.Context, code string) ([]byte, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/municipios/%s?formato=application/vnd.geo%%2Bjson", c.malhasURL, code))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("boundary response for %s is not valid JSON", code)
	}
	if gjson.GetBytes(raw, "type").String() == "" {
		return nil, fmt.Errorf("boundary response for %s is not GeoJSON", code)
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	limited := io.LimitReader(resp.Body, maxBodySize+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(raw) > maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodySize)
	}
	return raw, nil
}
