package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"mealgate/webclient/internal/sanitize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSubscription() SubscriptionInput {
	return SubscriptionInput{
		Name:       "Dewi Lestari",
		Phone:      "081234567890",
		Plan:       "Protein Plan",
		MealTypes:  []string{"Breakfast", "Dinner"},
		Days:       []string{"Monday", "Wednesday", "Friday"},
		Allergies:  "peanuts",
		TotalPrice: 1720000,
	}
}

func TestSubscriptionCreate_InsertsCanonicalColumns(t *testing.T) {
	b, c := newBackend(t)
	b.reply("POST /rest/v1/subscriptions", http.StatusCreated, nil)
	s := NewSubscriptionService(c, member())

	in := validSubscription()
	in.Allergies = `<script>alert(1)</script>shellfish`
	require.NoError(t, s.Create(context.Background(), in))

	calls := b.recorded("POST /rest/v1/subscriptions")
	require.Len(t, calls, 1)
	assert.Equal(t, "return=minimal", calls[0].Header.Get("Prefer"))

	var rows []map[string]any
	calls[0].decode(t, &rows)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.ElementsMatch(t,
		[]string{"name", "phone", "plan", "meal_types", "days", "allergies", "total_price", "user_id"},
		keys(row))
	assert.Equal(t, "shellfish", row["allergies"])
	assert.Equal(t, userID.String(), row["user_id"])
	assert.Equal(t, []any{"Breakfast", "Dinner"}, row["meal_types"])
	assert.EqualValues(t, 1720000, row["total_price"])
}

func TestSubscriptionCreate_AnonymousHasNoUserID(t *testing.T) {
	b, c := newBackend(t)
	b.reply("POST /rest/v1/subscriptions", http.StatusCreated, nil)
	s := NewSubscriptionService(c, anonymous())

	require.NoError(t, s.Create(context.Background(), validSubscription()))
	var rows []map[string]any
	b.recorded("POST /rest/v1/subscriptions")[0].decode(t, &rows)
	assert.NotContains(t, rows[0], "user_id")
}

func TestSubscriptionCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubscriptionInput)
		field  string
	}{
		{"no meal types", func(in *SubscriptionInput) { in.MealTypes = nil }, "meal_types"},
		{"blank day", func(in *SubscriptionInput) { in.Days = []string{"Monday", ""} }, "days"},
		{"markup-only day", func(in *SubscriptionInput) { in.Days = []string{"<b></b>"} }, "days"},
		{"no price", func(in *SubscriptionInput) { in.TotalPrice = 0 }, "total_price"},
		{"bad phone", func(in *SubscriptionInput) { in.Phone = "0812-3456" }, "phone"},
		{"short name", func(in *SubscriptionInput) { in.Name = "<em>A</em>" }, "name"},
		{"no plan", func(in *SubscriptionInput) { in.Plan = "" }, "plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, c := newBackend(t)
			s := NewSubscriptionService(c, member())
			in := validSubscription()
			tt.mutate(&in)

			err := s.Create(context.Background(), in)
			var ve *sanitize.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, b.all())
		})
	}
}

func TestSubscriptionCreate_UserLookupFailure(t *testing.T) {
	b, c := newBackend(t)
	boom := errors.New("session refresh failed")
	s := NewSubscriptionService(c, &stubAuthz{err: boom})
	assert.ErrorIs(t, s.Create(context.Background(), validSubscription()), boom)
	assert.Empty(t, b.all())
}

func TestSubscriptionList(t *testing.T) {
	b, c := newBackend(t)
	b.reply("GET /rest/v1/subscriptions", http.StatusOK, []map[string]any{
		{"id": 7, "name": "Dewi", "plan": "Diet Plan", "total_price": 860000, "created_at": "2026-10-01T08:00:00Z"},
	})
	s := NewSubscriptionService(c, member())

	subs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, RowID("7"), subs[0].ID)
	assert.Equal(t, 860000.0, subs[0].TotalPrice)

	q := b.recorded("GET /rest/v1/subscriptions")[0].Query
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "*", q.Get("select"))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
