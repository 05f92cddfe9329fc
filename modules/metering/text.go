package metering

import (
	"net/http"

	"github.com/dmitrymomot/usagegate/core"
	"github.com/dmitrymomot/usagegate/pkg/subscription"
	"github.com/dmitrymomot/usagegate/pkg/textai"
)

type textRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	AIProbability float64             `json:"aiProbability"`
	Verdict       textai.Verdict      `json:"verdict"`
	Usage         *subscription.Usage `json:"usageThisMonth,omitempty"`
}

type humanizeResponse struct {
	Text  string              `json:"text"`
	Usage *subscription.Usage `json:"usageThisMonth,omitempty"`
}

// detect runs after the gate has allowed and charged the request.
func (m *Module) detect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "detect: bad body", err)
		return
	}

	result, err := m.opts.Text.Detect(r.Context(), req.Text)
	if err != nil {
		m.fail(w, r, "detect failed", err)
		return
	}

	core.Render(w, r, core.JSON(detectResponse{
		AIProbability: result.AIProbability,
		Verdict:       result.Verdict,
		Usage:         decisionUsage(r),
	}))
}

func (m *Module) humanize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(w, r, m.opts.Config.MaxBodyBytes, &req); err != nil {
		m.fail(w, r, "humanize: bad body", err)
		return
	}

	out, err := m.opts.Text.Humanize(r.Context(), req.Text)
	if err != nil {
		m.fail(w, r, "humanize failed", err)
		return
	}

	core.Render(w, r, core.JSON(humanizeResponse{Text: out, Usage: decisionUsage(r)}))
}

func decisionUsage(r *http.Request) *subscription.Usage {
	if d, ok := subscription.GetDecisionFromContext(r.Context()); ok {
		return d.Usage
	}
	return nil
}
