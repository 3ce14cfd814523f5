package entitlements

import (
	"math"
	"time"
)

// Plan is a server's effective tier
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// AllPlans lists every plan, lowest first
var AllPlans = []Plan{PlanFree, PlanStandard, PlanPremium}

// Valid reports whether p is a known plan
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanStandard || p == PlanPremium
}

// Source says which record produced an entitlement
type Source string

const (
	SourceLicense      Source = "license"
	SourceSubscription Source = "subscription"
	SourceDefault      Source = "default"
)

// UnlimitedJobs is the MaxJobs value of an unbounded plan
const UnlimitedJobs = math.MaxInt32

// planQuotas maps subscription-derived plans to their job quota
var planQuotas = map[Plan]int{
	PlanFree:     1,
	PlanStandard: 5,
	PlanPremium:  UnlimitedJobs,
}

// QuotaFor returns the job quota of a subscription-derived plan
func QuotaFor(p Plan) int {
	if q, ok := planQuotas[p]; ok {
		return q
	}
	return planQuotas[PlanFree]
}

// Entitlement is the effective plan and job quota of a server. It is always
// derived from current subscription and license rows, never stored.
type Entitlement struct {
	Plan           Plan       `json:"plan"`
	MaxJobs        int        `json:"max_jobs"`
	Unlimited      bool       `json:"unlimited"`
	Source         Source     `json:"source"`
	LicenseID      string     `json:"license_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Free is the floor every failure falls back to
func Free() Entitlement {
	return Entitlement{
		Plan:    PlanFree,
		MaxJobs: planQuotas[PlanFree],
		Source:  SourceDefault,
	}
}

// Allows reports whether one more job fits under the quota
func (e Entitlement) Allows(current int) bool {
	return e.Unlimited || current < e.MaxJobs
}

// Limit is MaxJobs, or -1 when unbounded
func (e Entitlement) Limit() int64 {
	if e.Unlimited {
		return -1
	}
	return int64(e.MaxJobs)
}

func newEntitlement(plan Plan, maxJobs int, source Source) Entitlement {
	if maxJobs < 1 {
		maxJobs = 1
	}
	return Entitlement{
		Plan:      plan,
		MaxJobs:   maxJobs,
		Unlimited: maxJobs >= UnlimitedJobs,
		Source:    source,
	}
}

// SubscriptionStatus is the payment provider's subscription status
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// Entitling reports whether the status grants a plan
func (s SubscriptionStatus) Entitling() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription is a payment provider subscription, optionally bound to a
// server
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	ServerID           string             `json:"server_id,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	PriceID            string             `json:"price_id"`
	Plan               Plan               `json:"plan"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// SubscriptionRecord is what the payment webhook collaborator hands over.
// It never carries a server binding.
type SubscriptionRecord struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Status             SubscriptionStatus `json:"status"`
	PriceID            string             `json:"price_id"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
}

// License is a manually issued grant, claimable once
type License struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Plan       Plan       `json:"plan"`
	MaxJobs    int        `json:"max_jobs"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ServerID   string     `json:"server_id,omitempty"`
	ServerName string     `json:"server_name,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValidAt reports whether the license grants its plan at t. A license
// without expiry is valid forever.
func (l *License) ValidAt(t time.Time) bool {
	return l.ExpiresAt == nil || t.Before(*l.ExpiresAt)
}

// IssueLicenseRequest describes licenses to mint
type IssueLicenseRequest struct {
	Plan      Plan `json:"plan"`
	MaxJobs   int  `json:"max_jobs"`
	ValidDays int  `json:"valid_days"` // 0 means no expiry
	Count     int  `json:"count"`      // defaults to 1
}
