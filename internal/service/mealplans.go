package service

import (
	"context"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const planColumns = "*, meal_plan_details(*)"

// MealPlan is a plan as shown to visitors.
type MealPlan struct {
	ID          RowID    `json:"id"`
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	PriceValue  float64  `json:"priceValue"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Details     []string `json:"details"`
}

type mealPlanRow struct {
	ID           RowID        `json:"id"`
	Name         string       `json:"name"`
	PricePerMeal float64      `json:"price_per_meal"`
	Description  string       `json:"description"`
	ImageURL     string       `json:"image_url"`
	Details      []planDetail `json:"meal_plan_details"`
}

type planDetail struct {
	Detail string `json:"detail"`
}

func planDetails(details []string) []planDetail {
	out := make([]planDetail, 0, len(details))
	for _, d := range details {
		out = append(out, planDetail{Detail: d})
	}
	return out
}

// MealPlanInput is the admin plan form.
type MealPlanInput struct {
	Name        string   `json:"name" validate:"required"`
	PriceValue  float64  `json:"priceValue" validate:"gt=0"`
	Description string   `json:"description"`
	Image       string   `json:"image" validate:"omitempty,http_url"`
	Details     []string `json:"details" validate:"dive,required"`
}

type mealPlanWrite struct {
	Name         string  `json:"name"`
	PricePerMeal float64 `json:"price_per_meal"`
	Description  string  `json:"description"`
	ImageURL     string  `json:"image_url"`
}

type mealPlanDetail struct {
	MealPlanID RowID  `json:"meal_plan_id"`
	Detail     string `json:"detail"`
}

type MealPlanService struct {
	client  *platform.Client
	authz   Authorizer
	printer *message.Printer
}

func NewMealPlanService(c *platform.Client, a Authorizer) *MealPlanService {
	return &MealPlanService{client: c, authz: a, printer: message.NewPrinter(language.Indonesian)}
}

// FormatPrice renders a per-meal price the way the site shows it, e.g.
// "Rp35.000 / meal".
func (s *MealPlanService) FormatPrice(v float64) string {
	return s.printer.Sprintf("Rp%v / meal", number.Decimal(v, number.MaxFractionDigits(3)))
}

func (s *MealPlanService) present(r mealPlanRow) MealPlan {
	details := make([]string, 0, len(r.Details))
	for _, d := range r.Details {
		details = append(details, d.Detail)
	}
	return MealPlan{
		ID:          r.ID,
		Name:        r.Name,
		Price:       s.FormatPrice(r.PricePerMeal),
		PriceValue:  r.PricePerMeal,
		Description: r.Description,
		Image:       r.ImageURL,
		Details:     details,
	}
}

func (s *MealPlanService) All(ctx context.Context) ([]MealPlan, error) {
	rows, err := platform.Decode[[]mealPlanRow](s.client.From(platform.TableMealPlans).
		Select(planColumns).
		Get(ctx)).Unwrap()
	if err != nil {
		return nil, err
	}
	out := make([]MealPlan, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.present(r))
	}
	return out, nil
}

func (s *MealPlanService) ByID(ctx context.Context, id RowID) (MealPlan, error) {
	row, err := platform.Decode[mealPlanRow](s.client.From(platform.TableMealPlans).
		Select(planColumns).
		Eq("id", id).
		Single().
		Get(ctx)).Unwrap()
	if err != nil {
		if platform.IsCode(err, platform.CodeNoRows) {
			return MealPlan{}, ErrNotFound
		}
		return MealPlan{}, err
	}
	return s.present(row), nil
}

func checkMealPlan(in MealPlanInput) (mealPlanWrite, []string, error) {
	if err := checkStruct(in); err != nil {
		return mealPlanWrite{}, nil, err
	}
	var w mealPlanWrite
	var err error
	if w.Name, err = field("name", in.Name, sanitize.Text); err != nil {
		return w, nil, err
	}
	if w.Description, err = field("description", in.Description, sanitize.Optional); err != nil {
		return w, nil, err
	}
	w.ImageURL = in.Image
	w.PricePerMeal = in.PriceValue
	details, err := cleanList("details", in.Details)
	if err != nil {
		return w, nil, err
	}
	return w, details, nil
}

func (s *MealPlanService) insertDetails(ctx context.Context, id RowID, details []string) error {
	if len(details) == 0 {
		return nil
	}
	rows := make([]mealPlanDetail, 0, len(details))
	for _, d := range details {
		rows = append(rows, mealPlanDetail{MealPlanID: id, Detail: d})
	}
	return s.client.From(platform.TableMealPlanDetails).Insert(ctx, rows, false).Err()
}

// Add creates a plan and its detail lines. Administrators only.
func (s *MealPlanService) Add(ctx context.Context, in MealPlanInput) (MealPlan, error) {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return MealPlan{}, err
	}
	w, details, err := checkMealPlan(in)
	if err != nil {
		return MealPlan{}, err
	}
	row, err := first[mealPlanRow](s.client.From(platform.TableMealPlans).
		Select("*").
		Insert(ctx, []mealPlanWrite{w}, true))
	if err != nil {
		return MealPlan{}, err
	}
	if err := s.insertDetails(ctx, row.ID, details); err != nil {
		return MealPlan{}, err
	}
	row.Details = planDetails(details)
	httputil.GetLogger(ctx).Info().Str("meal_plan_id", row.ID.String()).Msg("meal plan added")
	return s.present(row), nil
}

// Update rewrites a plan and replaces its detail lines. Administrators only.
func (s *MealPlanService) Update(ctx context.Context, id RowID, in MealPlanInput) (MealPlan, error) {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return MealPlan{}, err
	}
	w, details, err := checkMealPlan(in)
	if err != nil {
		return MealPlan{}, err
	}
	row, err := first[mealPlanRow](s.client.From(platform.TableMealPlans).
		Select("*").
		Eq("id", id).
		Update(ctx, w, true))
	if err != nil {
		return MealPlan{}, err
	}
	if err := s.client.From(platform.TableMealPlanDetails).Eq("meal_plan_id", id).Delete(ctx).Err(); err != nil {
		return MealPlan{}, err
	}
	if err := s.insertDetails(ctx, id, details); err != nil {
		return MealPlan{}, err
	}
	row.Details = planDetails(details)
	return s.present(row), nil
}

// Delete removes a plan. Details go first because they reference the plan.
func (s *MealPlanService) Delete(ctx context.Context, id RowID) error {
	if _, err := s.authz.RequireAdmin(ctx); err != nil {
		return err
	}
	if err := s.client.From(platform.TableMealPlanDetails).Eq("meal_plan_id", id).Delete(ctx).Err(); err != nil {
		return err
	}
	if err := s.client.From(platform.TableMealPlans).Eq("id", id).Delete(ctx).Err(); err != nil {
		return err
	}
	httputil.GetLogger(ctx).Info().Str("meal_plan_id", id.String()).Msg("meal plan deleted")
	return nil
}
