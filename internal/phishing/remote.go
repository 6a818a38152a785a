package phishing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cryptoc/txguard/internal/circuitbreaker"
	"github.com/cryptoc/txguard/internal/metrics"
)

// RemoteClassifier calls a model server that accepts POST {"url": ...} and
// answers {"label", "confidence", "risk_score"?}. A missing risk_score is
// derived from the confidence.
type RemoteClassifier struct {
	name     string
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
}

// NewRemote creates a remote classifier. breaker may be nil.
func NewRemote(name, endpoint string, timeout time.Duration, breaker *circuitbreaker.Breaker) *RemoteClassifier {
	return &RemoteClassifier{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
	}
}

func (r *RemoteClassifier) Name() string { return r.name }

func (r *RemoteClassifier) Classify(ctx context.Context, target string) (v *Verdict, err error) {
	defer func() {
		metrics.ClassifierRequestsTotal.WithLabelValues(r.name, metrics.Result(err)).Inc()
	}()

	call := func() error {
		v, err = r.do(ctx, target)
		return err
	}
	if r.breaker == nil {
		err = call()
		return v, err
	}
	if err := r.breaker.Execute("classifier:"+r.name, call); err != nil {
		return nil, err
	}
	return v, nil
}

type remoteResponse struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	RiskScore  *float64 `json:"risk_score"`
}

func (r *RemoteClassifier) do(ctx context.Context, target string) (*Verdict, error) {
	body, err := json.Marshal(map[string]string{"url": target})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}

	v := &Verdict{Label: strings.ToLower(out.Label), Confidence: out.Confidence}
	switch {
	case out.RiskScore != nil:
		v.RiskScore = *out.RiskScore
	case v.Label == LabelMalicious:
		v.RiskScore = out.Confidence * 100
	default:
		v.RiskScore = (1 - out.Confidence) * 100
	}
	return v, nil
}

// FromEndpoints builds remote classifiers from "name=url" or bare "url"
// entries, keeping their order. Bare entries are named after their host.
func FromEndpoints(entries []string, timeout time.Duration, breaker *circuitbreaker.Breaker) ([]Classifier, error) {
	out := make([]Classifier, 0, len(entries))
	for _, e := range entries {
		// A bare URL may carry "=" in its query, so only a prefix without
		// a scheme separator is a name.
		name, endpoint, ok := strings.Cut(e, "=")
		if !ok || strings.Contains(name, "://") {
			name, endpoint = "", e
		}
		u, err := url.Parse(strings.TrimSpace(endpoint))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("phishing: invalid classifier endpoint %q", e)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = u.Host
		}
		out = append(out, NewRemote(name, u.String(), timeout, breaker))
	}
	return out, nil
}
