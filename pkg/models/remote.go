package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// RemoteModel delegates training and prediction to an external HTTP model
// service, so ensembles can mix in members implemented outside this process
// (a GPU training job, a Python service, a vendor API). The service speaks a
// small JSON contract:
//
//	POST {endpoint}/fit     {"train": {"x": [[...]], "y": [...]},
//	                         "valid": {"x": [[...]], "y": [...]}}
//	POST {endpoint}/predict {"x": [[...]]}
//
// The predict response carries either "coefficients" (a Bernstein coefficient
// vector per instance) or parallel "location"/"scale" arrays. Responses are
// read with gjson so extra envelope fields from the service never break us.
type RemoteModel struct {
	endpoint string
	name     string
	degree   int // Bernstein degree for coefficient responses
	client   *http.Client

	trained bool
}

// NewRemoteModel creates a model backed by the service at endpoint. The
// degree applies only when the service returns Bernstein coefficients.
func NewRemoteModel(endpoint, name string, degree int, timeout time.Duration) *RemoteModel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteModel{
		endpoint: endpoint,
		name:     name,
		degree:   degree,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// Name returns the model identifier.
func (m *RemoteModel) Name() string {
	return m.name
}

type remoteSplit struct {
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

type remoteFitRequest struct {
	Train remoteSplit `json:"train"`
	Valid remoteSplit `json:"valid"`
}

type remotePredictRequest struct {
	X [][]float64 `json:"x"`
}

// Fit ships both splits to the service and waits for training to finish.
func (m *RemoteModel) Fit(ctx context.Context, train, valid Data) error {
	if err := train.Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := valid.Validate(); err != nil {
		return fmt.Errorf("valid: %w", err)
	}

	req := remoteFitRequest{
		Train: remoteSplit{X: train.X, Y: train.Y},
		Valid: remoteSplit{X: valid.X, Y: valid.Y},
	}
	if _, err := m.post(ctx, m.endpoint+"/fit", req); err != nil {
		return err
	}
	m.trained = true
	return nil
}

// Predict calls the service and extracts whichever representation it sent.
func (m *RemoteModel) Predict(ctx context.Context, x [][]float64) (NativeOutput, error) {
	if !m.trained {
		return NativeOutput{}, fmt.Errorf("model not trained, call Fit first")
	}
	if len(x) == 0 {
		return NativeOutput{}, fmt.Errorf("inputs cannot be empty")
	}

	body, err := m.post(ctx, m.endpoint+"/predict", remotePredictRequest{X: x})
	if err != nil {
		return NativeOutput{}, err
	}

	if coeffs := gjson.GetBytes(body, "coefficients"); coeffs.Exists() {
		out := NativeOutput{Coefficients: parseMatrix(coeffs)}
		if len(out.Coefficients) != len(x) {
			return NativeOutput{}, fmt.Errorf("service returned %d coefficient vectors for %d inputs",
				len(out.Coefficients), len(x))
		}
		return out, nil
	}

	loc := gjson.GetBytes(body, "location")
	scale := gjson.GetBytes(body, "scale")
	if loc.Exists() && scale.Exists() {
		out := NativeOutput{
			Location: parseVector(loc),
			Scale:    parseVector(scale),
		}
		if len(out.Location) != len(x) || len(out.Scale) != len(x) {
			return NativeOutput{}, fmt.Errorf("service returned %d/%d location/scale values for %d inputs",
				len(out.Location), len(out.Scale), len(x))
		}
		return out, nil
	}

	return NativeOutput{}, fmt.Errorf("service response has neither coefficients nor location/scale")
}

// ReconstructQuantiles dispatches on the populated representation.
func (m *RemoteModel) ReconstructQuantiles(out NativeOutput, levels []float64) ([]forecast.Forecast, error) {
	if len(out.Coefficients) > 0 {
		basis, err := forecast.NewBasis(m.degree, levels)
		if err != nil {
			return nil, fmt.Errorf("basis: %w", err)
		}
		forecasts := make([]forecast.Forecast, len(out.Coefficients))
		for i, raw := range out.Coefficients {
			f, err := basis.Reconstruct(raw)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			forecasts[i] = f
		}
		return forecasts, nil
	}

	if len(out.Location) > 0 && len(out.Location) == len(out.Scale) {
		forecasts := make([]forecast.Forecast, len(out.Location))
		for i := range out.Location {
			f, err := forecast.FromNormal(out.Location[i], out.Scale[i], levels)
			if err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			forecasts[i] = f
		}
		return forecasts, nil
	}

	return nil, fmt.Errorf("output has neither coefficients nor location/scale")
}

func (m *RemoteModel) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote: http %d: %s", resp.StatusCode, string(snippet))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	return data, nil
}

func parseVector(r gjson.Result) []float64 {
	arr := r.Array()
	out := make([]float64, len(arr))
	for i, v := range arr {
		out[i] = v.Float()
	}
	return out
}

func parseMatrix(r gjson.Result) [][]float64 {
	arr := r.Array()
	out := make([][]float64, len(arr))
	for i, row := range arr {
		out[i] = parseVector(row)
	}
	return out
}
