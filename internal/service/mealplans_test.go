package service

import (
	"context"
	"net/http"
	"testing"

	"mealgate/webclient/internal/authz"
	"mealgate/webclient/internal/sanitize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	s := NewMealPlanService(nil, anonymous())
	assert.Equal(t, "Rp30.000 / meal", s.FormatPrice(30000))
	assert.Equal(t, "Rp1.250.000 / meal", s.FormatPrice(1250000))
	assert.Equal(t, "Rp950 / meal", s.FormatPrice(950))
}

func TestMealPlanAll(t *testing.T) {
	b, c := newBackend(t)
	b.reply("GET /rest/v1/meal_plans", http.StatusOK, []map[string]any{
		{
			"id": 1, "name": "Diet Plan", "price_per_meal": 30000, "description": "Low calorie",
			"image_url":         "https://cdn.example.com/diet.jpg",
			"meal_plan_details": []map[string]any{{"detail": "1200 kcal"}, {"detail": "Vegetables"}},
		},
		{"id": 2, "name": "Royal Plan", "price_per_meal": 60000, "meal_plan_details": nil},
	})
	s := NewMealPlanService(c, anonymous())

	plans, err := s.All(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, MealPlan{
		ID:          "1",
		Name:        "Diet Plan",
		Price:       "Rp30.000 / meal",
		PriceValue:  30000,
		Description: "Low calorie",
		Image:       "https://cdn.example.com/diet.jpg",
		Details:     []string{"1200 kcal", "Vegetables"},
	}, plans[0])
	assert.Equal(t, []string{}, plans[1].Details)
	assert.Equal(t, "*, meal_plan_details(*)", b.recorded("GET /rest/v1/meal_plans")[0].Query.Get("select"))
}

func TestMealPlanByID_NotFound(t *testing.T) {
	b, c := newBackend(t)
	b.reply("GET /rest/v1/meal_plans", http.StatusNotAcceptable, map[string]any{
		"code": "PGRST116", "message": "JSON object requested, multiple (or no) rows returned",
	})
	_, err := NewMealPlanService(c, anonymous()).ByID(context.Background(), "99")
	assert.ErrorIs(t, err, ErrNotFound)
	call := b.recorded("GET /rest/v1/meal_plans")[0]
	assert.Equal(t, "eq.99", call.Query.Get("id"))
	assert.Equal(t, "application/vnd.pgrst.object+json", call.Header.Get("Accept"))
}

func TestMealPlanAdd(t *testing.T) {
	b, c := newBackend(t)
	b.reply("POST /rest/v1/meal_plans", http.StatusCreated, []map[string]any{
		{"id": 4, "name": "Protein Plan", "price_per_meal": 40000, "description": "", "image_url": ""},
	})
	b.reply("POST /rest/v1/meal_plan_details", http.StatusCreated, nil)
	s := NewMealPlanService(c, administrator())

	plan, err := s.Add(context.Background(), MealPlanInput{
		Name:       "Protein Plan",
		PriceValue: 40000,
		Details:    []string{"High protein", "<b>Chicken</b>"},
	})
	require.NoError(t, err)
	assert.Equal(t, RowID("4"), plan.ID)
	assert.Equal(t, []string{"High protein", "Chicken"}, plan.Details)

	var details []map[string]any
	b.recorded("POST /rest/v1/meal_plan_details")[0].decode(t, &details)
	assert.Equal(t, []map[string]any{
		{"meal_plan_id": float64(4), "detail": "High protein"},
		{"meal_plan_id": float64(4), "detail": "Chicken"},
	}, details)
}

func TestMealPlanUpdate_ReplacesDetails(t *testing.T) {
	b, c := newBackend(t)
	b.reply("PATCH /rest/v1/meal_plans", http.StatusOK, []map[string]any{{"id": 4, "name": "Protein Plan+", "price_per_meal": 45000}})
	b.reply("DELETE /rest/v1/meal_plan_details", http.StatusNoContent, nil)
	b.reply("POST /rest/v1/meal_plan_details", http.StatusCreated, nil)
	s := NewMealPlanService(c, administrator())

	plan, err := s.Update(context.Background(), "4", MealPlanInput{Name: "Protein Plan+", PriceValue: 45000, Details: []string{"Extra egg"}})
	require.NoError(t, err)
	assert.Equal(t, "Rp45.000 / meal", plan.Price)

	var order []string
	for _, c := range b.all() {
		order = append(order, c.Method+" "+c.Path)
	}
	assert.Equal(t, []string{
		"PATCH /rest/v1/meal_plans",
		"DELETE /rest/v1/meal_plan_details",
		"POST /rest/v1/meal_plan_details",
	}, order)
	assert.Equal(t, "eq.4", b.recorded("DELETE /rest/v1/meal_plan_details")[0].Query.Get("meal_plan_id"))
}

func TestMealPlanDelete_DetailsFirst(t *testing.T) {
	b, c := newBackend(t)
	b.reply("DELETE /rest/v1/meal_plan_details", http.StatusNoContent, nil)
	b.reply("DELETE /rest/v1/meal_plans", http.StatusNoContent, nil)

	require.NoError(t, NewMealPlanService(c, administrator()).Delete(context.Background(), "4"))
	calls := b.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "/rest/v1/meal_plan_details", calls[0].Path)
	assert.Equal(t, "/rest/v1/meal_plans", calls[1].Path)
}

func TestMealPlanDelete_ForeignKeyHint(t *testing.T) {
	b, c := newBackend(t)
	b.reply("DELETE /rest/v1/meal_plan_details", http.StatusNoContent, nil)
	b.reply("DELETE /rest/v1/meal_plans", http.StatusConflict, map[string]any{
		"code": "23503", "message": "update or delete on table \"meal_plans\" violates foreign key constraint",
	})
	err := NewMealPlanService(c, administrator()).Delete(context.Background(), "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "23503")
}

func TestMealPlanWrites_AdminOnly(t *testing.T) {
	ctx := context.Background()
	in := MealPlanInput{Name: "Diet Plan", PriceValue: 30000}
	for _, tc := range []struct {
		name string
		a    *stubAuthz
		want error
	}{
		{"anonymous", anonymous(), authz.ErrUnauthenticated},
		{"member", member(), authz.ErrForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, c := newBackend(t)
			s := NewMealPlanService(c, tc.a)
			_, err := s.Add(ctx, in)
			assert.ErrorIs(t, err, tc.want)
			_, err = s.Update(ctx, "1", in)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, s.Delete(ctx, "1"), tc.want)
			assert.Empty(t, b.all())
		})
	}
}

func TestMealPlanInput_Validation(t *testing.T) {
	b, c := newBackend(t)
	s := NewMealPlanService(c, administrator())
	for field, in := range map[string]MealPlanInput{
		"priceValue": {Name: "Diet", PriceValue: 0},
		"image":      {Name: "Diet", PriceValue: 1, Image: "javascript:alert(1)"},
		"details":    {Name: "Diet", PriceValue: 1, Details: []string{""}},
		"name":       {PriceValue: 1},
	} {
		_, err := s.Add(context.Background(), in)
		var ve *sanitize.ValidationError
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
	}
	assert.Empty(t, b.all())
}
