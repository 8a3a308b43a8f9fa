package service

import (
	"context"
	"time"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"

	"github.com/google/uuid"
)

// SubscriptionInput is the subscription form.
type SubscriptionInput struct {
	Name       string   `json:"name" validate:"required"`
	Phone      string   `json:"phone" validate:"required"`
	Plan       string   `json:"plan" validate:"required"`
	MealTypes  []string `json:"meal_types" validate:"required,min=1,dive,required"`
	Days       []string `json:"days" validate:"required,min=1,dive,required"`
	Allergies  string   `json:"allergies"`
	TotalPrice float64  `json:"total_price" validate:"gt=0"`
}

// Subscription is a subscriptions row.
type Subscription struct {
	ID            RowID      `json:"id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Plan          string     `json:"plan"`
	MealTypes     []string   `json:"meal_types"`
	Days          []string   `json:"days"`
	Allergies     string     `json:"allergies"`
	TotalPrice    float64    `json:"total_price"`
	Status        *string    `json:"status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReactivatedAt *time.Time `json:"reactivated_at,omitempty"`
}

type subscriptionRow struct {
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Plan       string     `json:"plan"`
	MealTypes  []string   `json:"meal_types"`
	Days       []string   `json:"days"`
	Allergies  string     `json:"allergies"`
	TotalPrice float64    `json:"total_price"`
}

type SubscriptionService struct {
	client *platform.Client
	authz  Authorizer
}

func NewSubscriptionService(c *platform.Client, a Authorizer) *SubscriptionService {
	return &SubscriptionService{client: c, authz: a}
}

// sanitizeInput validates the structure first, then cleans every free-text field.
func sanitizeInput(in SubscriptionInput) (subscriptionRow, error) {
	if err := checkStruct(in); err != nil {
		return subscriptionRow{}, err
	}
	var row subscriptionRow
	var err error
	if row.Name, err = field("name", in.Name, sanitize.Name); err != nil {
		return row, err
	}
	if row.Phone, err = field("phone", in.Phone, sanitize.Phone); err != nil {
		return row, err
	}
	if row.Plan, err = field("plan", in.Plan, sanitize.Text); err != nil {
		return row, err
	}
	if row.MealTypes, err = cleanList("meal_types", in.MealTypes); err != nil {
		return row, err
	}
	if row.Days, err = cleanList("days", in.Days); err != nil {
		return row, err
	}
	if row.Allergies, err = field("allergies", in.Allergies, sanitize.Optional); err != nil {
		return row, err
	}
	row.TotalPrice = in.TotalPrice
	return row, nil
}

// cleanList strips markup from every entry; an entry that is nothing but
// markup empties to a failure.
func cleanList(name string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, err := field(name, v, sanitize.Text)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, &sanitize.ValidationError{Field: name, Reason: sanitize.ReasonEmpty}
		}
		out = append(out, s)
	}
	return out, nil
}

// Create stores a subscription for the signed-in user.
func (s *SubscriptionService) Create(ctx context.Context, in SubscriptionInput) error {
	row, err := sanitizeInput(in)
	if err != nil {
		return err
	}
	u, err := s.authz.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if u != nil {
		row.UserID = &u.ID
	}
	if err := s.client.From(platform.TableSubscriptions).Insert(ctx, []subscriptionRow{row}, false).Err(); err != nil {
		return err
	}
	httputil.GetLogger(ctx).Info().Str("plan", row.Plan).Float64("total_price", row.TotalPrice).Msg("subscription created")
	return nil
}

// List returns subscriptions newest first. Row level security on the platform
// decides which rows the caller sees.
func (s *SubscriptionService) List(ctx context.Context) ([]Subscription, error) {
	return platform.Decode[[]Subscription](s.client.From(platform.TableSubscriptions).
		Select("*").
		Order("created_at", false).
		Get(ctx)).Unwrap()
}
