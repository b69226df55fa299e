package risk

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/model"
)

const sampleConfig = `
providers:
  - name: scorecard
    enabled: true
    api_key: secret
    auth_type: header
    auth_header: X-Scorecard-Key
    base_url: http://risk.example.com
    endpoints:
      assess: /v1/cases/{case_id}/score
    request_config:
      field_mapping:
        country: nationality
    response_mapping:
      score_field: result.score
      reference_field: result.id
    thresholds:
      medium: "40"
      high: "70"
      critical: "90"
  - name: disabled-one
    enabled: false
  - name: broken
    enabled: true
    api_key: k
    base_url: http://broken.example.com
    endpoints:
      assess: /score
    response_mapping:
      score_field: score
    thresholds:
      medium: "50"
      high: "20"
      critical: "90"
`

func testCase(t *testing.T) *model.Case {
	t.Helper()
	c, _, err := model.NewCase(model.CaseTypeIndividual, "OBC-20240301-00001", "partner-1", "ref-1", time.Now())
	require.NoError(t, err)
	dob := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	c.Applicant = &model.ApplicantDetails{FirstName: "Ada", LastName: "Obi", Nationality: "NG", Email: "ada@example.com", DateOfBirth: &dob}
	return c
}

func TestLoadProviders_SkipsDisabledAndInvalid(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadProvidersFromConfigBytes([]byte(sampleConfig)))
	assert.Equal(t, []string{"scorecard"}, r.Names())

	p, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "scorecard", p.Name())

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestThresholdLevels(t *testing.T) {
	tr, err := Thresholds{Medium: "40", High: "70", Critical: "90"}.parse()
	require.NoError(t, err)

	cases := map[string]model.RiskLevel{
		"0":     model.RiskLow,
		"39.99": model.RiskLow,
		"40":    model.RiskMedium,
		"70":    model.RiskHigh,
		"89.5":  model.RiskHigh,
		"90":    model.RiskCritical,
	}
	for score, want := range cases {
		assert.Equal(t, want, tr.levelFor(decimal.RequireFromString(score)), score)
	}
}

func TestAssess_MapsScoreToLevel(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	c := testCase(t)
	httpmock.RegisterResponder("POST", "http://risk.example.com/v1/cases/"+c.ID.String()+"/score",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("X-Scorecard-Key"))
			return httpmock.NewStringResponse(200, `{"result": {"score": 72.5, "id": "sc-1"}}`), nil
		})

	p := newConfigurableProvider(cfg.Providers[0], client)
	out, err := p.Assess(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, out.Level)
	assert.Equal(t, "sc-1", out.Reference)
	assert.Equal(t, "scorecard", out.Source)
	assert.True(t, out.Score.Equal(decimal.RequireFromString("72.5")))
}

func TestAssess_ProviderErrorsAreClassified(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	c := testCase(t)
	url := "http://risk.example.com/v1/cases/" + c.ID.String() + "/score"
	p := newConfigurableProvider(cfg.Providers[0], client)

	httpmock.RegisterResponder("POST", url, httpmock.NewStringResponder(503, `unavailable`))
	_, err = p.Assess(context.Background(), c)
	assert.Equal(t, gateway.Transient, gateway.Classify(err))

	httpmock.RegisterResponder("POST", url, httpmock.NewStringResponder(200, `{"result": {}}`))
	_, err = p.Assess(context.Background(), c)
	assert.Equal(t, gateway.Permanent, gateway.Classify(err))
}

func TestBuildRequestBody_AppliesFieldMapping(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(sampleConfig))
	require.NoError(t, err)
	p := newConfigurableProvider(cfg.Providers[0], nil).(*configurableProvider)

	body := p.buildRequestBody(testCase(t))
	assert.Equal(t, "NG", body["nationality"])
	assert.NotContains(t, body, "country")
	assert.Equal(t, "1990-01-02", body["date_of_birth"])
}
