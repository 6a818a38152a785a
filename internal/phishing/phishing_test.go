package phishing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoc/txguard/internal/circuitbreaker"
	"github.com/cryptoc/txguard/internal/logging"
)

type stubClassifier struct {
	name    string
	verdict *Verdict
	err     error
	calls   int
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(ctx context.Context, url string) (*Verdict, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	v := *s.verdict
	return &v, nil
}

func TestChain_FirstSuccessWins(t *testing.T) {
	primary := &stubClassifier{name: "xgboost", err: errors.New("model not loaded")}
	fallback := &stubClassifier{name: "huggingface", verdict: &Verdict{Label: LabelMalicious, Confidence: 0.9, RiskScore: 90}}
	last := &stubClassifier{name: "never", verdict: &Verdict{Label: LabelBenign, Confidence: 1}}

	chain := NewChain(logging.Discard(), primary, fallback, last)
	v, err := chain.Classify(context.Background(), "http://paypa1.example")
	require.NoError(t, err)
	assert.Equal(t, "huggingface", v.Model)
	assert.False(t, v.Safe())
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, last.calls)
	assert.Equal(t, []string{"xgboost", "huggingface", "never"}, chain.Names())
}

func TestChain_InvalidVerdictFallsThrough(t *testing.T) {
	bad := &stubClassifier{name: "bad", verdict: &Verdict{Label: "maybe", Confidence: 0.5}}
	good := &stubClassifier{name: "good", verdict: &Verdict{Label: LabelBenign, Confidence: 0.8, RiskScore: 20}}

	v, err := NewChain(nil, bad, good).Classify(context.Background(), "https://app.uniswap.org")
	require.NoError(t, err)
	assert.Equal(t, "good", v.Model)
	assert.True(t, v.Safe())
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(logging.Discard(),
		&stubClassifier{name: "a", err: errors.New("down")},
		&stubClassifier{name: "b", err: errors.New("down")},
	)
	_, err := chain.Classify(context.Background(), "https://x.example")
	assert.ErrorIs(t, err, ErrNoClassifier)
	assert.Contains(t, err.Error(), "a: down")
	assert.Contains(t, err.Error(), "b: down")

	_, err = NewChain(nil).Classify(context.Background(), "https://x.example")
	assert.ErrorIs(t, err, ErrNoClassifier)
}

func modelServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["url"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRemoteClassifier(t *testing.T) {
	srv, _ := modelServer(t, http.StatusOK, `{"label":"Malicious","confidence":0.75}`)

	v, err := NewRemote("xgboost", srv.URL, time.Second, nil).Classify(context.Background(), "http://bad.example")
	require.NoError(t, err)
	assert.Equal(t, LabelMalicious, v.Label)
	assert.InDelta(t, 75, v.RiskScore, 1e-9)

	srv, _ = modelServer(t, http.StatusOK, `{"label":"benign","confidence":0.9,"risk_score":4.5}`)
	v, err = NewRemote("hf", srv.URL, time.Second, nil).Classify(context.Background(), "https://good.example")
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v.RiskScore, 1e-9)
}

func TestRemoteClassifier_ResponseShapes(t *testing.T) {
	const endpoint = "http://model.internal/predict"
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   bool
		wantLabel string
		wantScore float64
	}{
		{"benign derives score", http.StatusOK, `{"label":"benign","confidence":0.8}`, false, LabelBenign, 20},
		{"malicious derives score", http.StatusOK, `{"label":"MALICIOUS","confidence":0.6}`, false, LabelMalicious, 60},
		{"explicit score wins", http.StatusOK, `{"label":"malicious","confidence":0.6,"risk_score":99}`, false, LabelMalicious, 99},
		{"non-200", http.StatusServiceUnavailable, `{}`, true, "", 0},
		{"garbage body", http.StatusOK, `not json`, true, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := NewRemote("model", endpoint, time.Second, nil)
			mt := httpmock.NewMockTransport()
			rc.client.Transport = mt

			var sent map[string]string
			mt.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(req.Body).Decode(&sent))
				return httpmock.NewStringResponse(tt.status, tt.body), nil
			})

			v, err := rc.Classify(context.Background(), "https://target.example/login")
			assert.Equal(t, 1, mt.GetTotalCallCount())
			assert.Equal(t, "https://target.example/login", sent["url"])
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, v.Label)
			assert.InDelta(t, tt.wantScore, v.RiskScore, 1e-9)
		})
	}
}

func TestRemoteClassifier_BreakerOpens(t *testing.T) {
	srv, hits := modelServer(t, http.StatusInternalServerError, `oops`)
	breaker := circuitbreaker.New(2, time.Minute)
	rc := NewRemote("flaky", srv.URL, time.Second, breaker)

	for i := 0; i < 2; i++ {
		_, err := rc.Classify(context.Background(), "https://x.example")
		require.Error(t, err)
	}
	_, err := rc.Classify(context.Background(), "https://x.example")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFromEndpoints(t *testing.T) {
	cs, err := FromEndpoints([]string{"xgboost=http://localhost:5001/predict", "https://hf.example/classify"}, time.Second, nil)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "xgboost", cs[0].Name())
	assert.Equal(t, "hf.example", cs[1].Name())

	_, err = FromEndpoints([]string{"ftp://nope"}, time.Second, nil)
	assert.Error(t, err)
}

func TestFromEndpoints_QueryInBareURL(t *testing.T) {
	cs, err := FromEndpoints([]string{
		"https://h.example/predict?model=x",
		"named=https://h.example/predict?model=y&v=2",
	}, time.Second, nil)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	bare := cs[0].(*RemoteClassifier)
	assert.Equal(t, "h.example", bare.Name())
	assert.Equal(t, "https://h.example/predict?model=x", bare.endpoint)

	named := cs[1].(*RemoteClassifier)
	assert.Equal(t, "named", named.Name())
	assert.Equal(t, "https://h.example/predict?model=y&v=2", named.endpoint)
}

func postPredict(t *testing.T, chain *Chain, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(chain, logging.Discard()).RegisterRoutes(r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHandler_Predict(t *testing.T) {
	chain := NewChain(nil, &stubClassifier{name: "xgboost", verdict: &Verdict{Label: LabelBenign, Confidence: 0.97, RiskScore: 3}})

	w, resp := postPredict(t, chain, `{"url":"https://app.uniswap.org"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.uniswap.org", resp["url"])
	assert.Equal(t, "benign", resp["prediction"])
	assert.Equal(t, true, resp["is_safe"])
	assert.Equal(t, 0.97, resp["confidence"])
	assert.Equal(t, float64(3), resp["risk_score"])
	assert.Equal(t, "xgboost", resp["model_used"])
}

func TestHandler_PredictErrors(t *testing.T) {
	w, resp := postPredict(t, NewChain(nil), `{"url":"https://a.example"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "classifier_unavailable", resp["error"])

	w, resp = postPredict(t, NewChain(nil), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_field", resp["error"])
}
