package risk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/internal/request"
	"github.com/blnkfinance/onboarding/model"
)

type configurableProvider struct {
	config ProviderConfig
	tiers  tiers
	client *request.Client
}

// newConfigurableProvider builds a provider from validated configuration. A nil httpClient
// uses a client with a 30 second timeout.
func newConfigurableProvider(cfg ProviderConfig, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	t, _ := cfg.Thresholds.parse()
	p := &configurableProvider{config: cfg, tiers: t}
	p.client = request.NewClient(httpClient, p.authHeaders())
	return p
}

func (p *configurableProvider) Name() string {
	return p.config.Name
}

func (p *configurableProvider) Assess(ctx context.Context, c *model.Case) (*Assessment, error) {
	endpoint := strings.ReplaceAll(p.config.Endpoints.Assess, "{case_id}", c.ID.String())
	endpoint = strings.ReplaceAll(endpoint, "{case_number}", c.CaseNumber)

	var data map[string]interface{}
	if err := p.client.Do(ctx, http.MethodPost, p.config.BaseURL+endpoint, p.buildRequestBody(c), &data); err != nil {
		return nil, err
	}
	return p.parseResponse(data)
}

func (p *configurableProvider) authHeaders() map[string]string {
	switch strings.ToLower(p.config.AuthType) {
	case "basic":
		auth := base64.StdEncoding.EncodeToString([]byte(p.config.APIKey + ":" + p.config.APISecret))
		return map[string]string{"Authorization": "Basic " + auth}
	case "header":
		header := p.config.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		return map[string]string{header: p.config.APIKey}
	default:
		return map[string]string{"Authorization": "Bearer " + p.config.APIKey}
	}
}

func (p *configurableProvider) buildRequestBody(c *model.Case) map[string]interface{} {
	fields := map[string]interface{}{
		"case_id":     c.ID.String(),
		"case_number": c.CaseNumber,
		"case_type":   string(c.Type),
		"partner_id":  c.PartnerID,
	}
	if a := c.Applicant; a != nil {
		fields["first_name"] = a.FirstName
		fields["last_name"] = a.LastName
		fields["email"] = a.Email
		fields["country"] = a.Nationality
		if a.DateOfBirth != nil {
			fields["date_of_birth"] = a.DateOfBirth.Format("2006-01-02")
		}
	}
	if b := c.Business; b != nil {
		fields["legal_name"] = b.LegalName
		fields["registration_number"] = b.RegistrationNumber
		fields["country"] = b.IncorporationCountry
		fields["directors"] = b.Directors
	}

	mapping := p.config.RequestConfig.FieldMapping
	if len(mapping) == 0 {
		return fields
	}
	body := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if renamed, ok := mapping[k]; ok {
			k = renamed
		}
		body[k] = v
	}
	return body
}

func (p *configurableProvider) parseResponse(data map[string]interface{}) (*Assessment, error) {
	rm := p.config.ResponseMapping
	out := &Assessment{Source: p.config.Name, AssessedAt: time.Now().UTC()}

	if rm.ReferenceField != "" {
		out.Reference, _ = getNestedValue(data, rm.ReferenceField).(string)
	}
	if rm.ScoreField != "" {
		score, err := toDecimal(getNestedValue(data, rm.ScoreField))
		if err != nil {
			return nil, gateway.MarkPermanent(fmt.Errorf("%s: field %s: %w", p.config.Name, rm.ScoreField, err))
		}
		out.Score = score
		out.Level = p.tiers.levelFor(score)
	}
	if rm.LevelField != "" {
		raw, _ := getNestedValue(data, rm.LevelField).(string)
		if level, err := model.ParseRiskLevel(strings.ToUpper(raw)); err == nil {
			out.Level = level
		} else if rm.ScoreField == "" {
			return nil, gateway.MarkPermanent(fmt.Errorf("%s: unknown risk level %q", p.config.Name, raw))
		}
	}
	return out, nil
}

func (t tiers) levelFor(score decimal.Decimal) model.RiskLevel {
	switch {
	case score.GreaterThanOrEqual(t.critical):
		return model.RiskCritical
	case score.GreaterThanOrEqual(t.high):
		return model.RiskHigh
	case score.GreaterThanOrEqual(t.medium):
		return model.RiskMedium
	}
	return model.RiskLow
}

func getNestedValue(data map[string]interface{}, path string) interface{} {
	current := interface{}(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch s := v.(type) {
	case float64:
		return decimal.NewFromFloat(s), nil
	case string:
		return decimal.NewFromString(s)
	case json.Number:
		return decimal.NewFromString(s.String())
	case nil:
		return decimal.Decimal{}, fmt.Errorf("missing score")
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported score type %T", v)
}
