package plans

import (
	"errors"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/pkg/env"
)

// ErrPlanNotFound is returned for unknown plan slugs.
var ErrPlanNotFound = errors.New("plan not found")

// MonthlyCreditsUnlimited marks a plan without a metered allotment.
const MonthlyCreditsUnlimited int64 = -1

// unlimitedGrant is the effective balance written for unlimited plans.
// Large enough that no realistic usage drains it within a billing period.
const unlimitedGrant int64 = 1_000_000_000

const (
	PlanBasic  = "basic"
	PlanPro    = "pro"
	PlanStudio = "studio"
	PlanUltra  = "ultra"
)

// Plan is a code-defined billing tier. The catalog is fixed at deploy time
// and never mutated at runtime; provider plan ids come from the environment
// because they differ between live and test mode.
type Plan struct {
	Slug           string
	Name           string
	MonthlyCredits int64
	PriceCents     int64
}

var catalog = map[string]Plan{
	PlanBasic:  {Slug: PlanBasic, Name: "Basic", MonthlyCredits: 10, PriceCents: 0},
	PlanPro:    {Slug: PlanPro, Name: "Pro", MonthlyCredits: 500, PriceCents: 1200},
	PlanStudio: {Slug: PlanStudio, Name: "Studio", MonthlyCredits: 2000, PriceCents: 3900},
	PlanUltra:  {Slug: PlanUltra, Name: "Ultra", MonthlyCredits: MonthlyCreditsUnlimited, PriceCents: 9900},
}

// Get returns the plan for a slug, or ErrPlanNotFound.
func Get(slug string) (Plan, error) {
	p, ok := catalog[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// All returns every defined plan. Order is unspecified.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	return out
}

// IsFree reports whether the slug is the free tier.
func IsFree(slug string) bool {
	return strings.ToLower(strings.TrimSpace(slug)) == PlanBasic
}

// EffectiveMonthlyCredits resolves the credit allotment written to a ledger,
// mapping the unlimited sentinel to its effective balance.
func (p Plan) EffectiveMonthlyCredits() int64 {
	if p.MonthlyCredits == MonthlyCreditsUnlimited {
		return unlimitedGrant
	}
	return p.MonthlyCredits
}

// ProviderPlanID resolves the payment provider's plan id for a paid plan.
// The free tier has no provider counterpart and resolves to "".
func (p Plan) ProviderPlanID() string {
	switch p.Slug {
	case PlanPro:
		return env.GetEnv("RAZORPAY_PLAN_PRO", "")
	case PlanStudio:
		return env.GetEnv("RAZORPAY_PLAN_STUDIO", "")
	case PlanUltra:
		return env.GetEnv("RAZORPAY_PLAN_ULTRA", "")
	default:
		return ""
	}
}

// BySlugOrDefault returns the plan for slug, falling back to basic for
// unknown or empty slugs. Used where a missing plan must degrade gracefully
// instead of erroring (e.g. ledger sync after a plan was retired).
func BySlugOrDefault(slug string) Plan {
	if p, err := Get(slug); err == nil {
		return p
	}
	return catalog[PlanBasic]
}
