package service

import (
	"context"
	"encoding/json"
	"time"

	"mealgate/webclient/internal/platform"

	"github.com/google/uuid"
)

const (
	dateLayout     = "2006-01-02"
	recentLimit    = 100
	activeStatuses = "status.eq.active,status.is.null"
)

// Summary is the admin dashboard headline.
type Summary struct {
	ActiveSubscriptions int     `json:"activeSubscriptions"`
	NewSubscriptions    int     `json:"newSubscriptions"`
	Reactivations       int     `json:"reactivations"`
	MonthlyRevenue      float64 `json:"monthlyRevenue"`
	SubscriptionGrowth  int     `json:"subscriptionGrowth"`
	Start               string  `json:"start"`
	End                 string  `json:"end"`
}

// Profile is a profiles row. Columns beyond the known ones are kept in Extra.
type Profile struct {
	ID       uuid.UUID      `json:"id"`
	FullName string         `json:"full_name"`
	IsAdmin  bool           `json:"is_admin"`
	Extra    map[string]any `json:"-"`
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	type plain Profile
	if err := json.Unmarshal(b, (*plain)(p)); err != nil {
		return err
	}
	return json.Unmarshal(b, &p.Extra)
}

func (p Profile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["id"] = p.ID
	out["full_name"] = p.FullName
	out["is_admin"] = p.IsAdmin
	return json.Marshal(out)
}

type AdminService struct {
	client *platform.Client
	authz  Authorizer
	now    func() time.Time
}

func NewAdminService(c *platform.Client, a Authorizer) *AdminService {
	return &AdminService{client: c, authz: a, now: time.Now}
}

// Summary counts subscriptions for the dashboard. Zero dates default to one
// month ago and today. Any failed query fails the whole summary.
func (s *AdminService) Summary(ctx context.Context, start, end time.Time) (Summary, error) {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return Summary{}, err
	}
	today := s.now().UTC()
	if end.IsZero() {
		end = today
	}
	if start.IsZero() {
		start = today.AddDate(0, -1, 0)
	}
	from := start.Format(dateLayout) + "T00:00:00"
	to := end.Format(dateLayout) + "T23:59:59"

	active, err := platform.Decode[[]struct {
		TotalPrice *float64 `json:"total_price"`
	}](s.client.From(platform.TableSubscriptions).
		Select("total_price").
		Or(activeStatuses).
		Get(ctx)).Unwrap()
	if err != nil {
		return Summary{}, err
	}
	fresh, err := s.client.From(platform.TableSubscriptions).
		Gte("created_at", from).
		Lte("created_at", to).
		Count(ctx).Unwrap()
	if err != nil {
		return Summary{}, err
	}
	reactivated, err := s.client.From(platform.TableSubscriptions).
		NotIs("reactivated_at", nil).
		Gte("reactivated_at", from).
		Lte("reactivated_at", to).
		Count(ctx).Unwrap()
	if err != nil {
		return Summary{}, err
	}

	var revenue float64
	for _, r := range active {
		if r.TotalPrice != nil {
			revenue += *r.TotalPrice
		}
	}
	return Summary{
		ActiveSubscriptions: len(active),
		NewSubscriptions:    fresh,
		Reactivations:       reactivated,
		MonthlyRevenue:      revenue,
		SubscriptionGrowth:  fresh - reactivated,
		Start:               start.Format(dateLayout),
		End:                 end.Format(dateLayout),
	}, nil
}

// Subscriptions returns the latest 100 subscriptions.
func (s *AdminService) Subscriptions(ctx context.Context) ([]Subscription, error) {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return platform.Decode[[]Subscription](s.client.From(platform.TableSubscriptions).
		Select("*").
		Order("created_at", false).
		Limit(recentLimit).
		Get(ctx)).Unwrap()
}

func (s *AdminService) UserDetails(ctx context.Context, userID uuid.UUID) (Profile, error) {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return Profile{}, err
	}
	p, err := platform.Decode[Profile](s.client.From(platform.TableProfiles).
		Select("*").
		Eq("id", userID).
		Single().
		Get(ctx)).Unwrap()
	if platform.IsCode(err, platform.CodeNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}
