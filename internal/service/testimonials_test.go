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

func TestTestimonialAdd(t *testing.T) {
	b, c := newBackend(t)
	b.on("POST /rest/v1/testimonials", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, []map[string]any{
			{"id": 11, "name": "Sari", "review": "Enak!", "rating": 5, "user_id": nil, "created_at": "2026-10-02T10:00:00Z"},
		})
	})
	s := NewTestimonialService(c, anonymous())

	got, err := s.Add(context.Background(), TestimonialInput{Name: "<b>Sari</b>", Review: `Enak!<img src=x onerror="alert(1)">`, Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, RowID("11"), got.ID)

	calls := b.recorded("POST /rest/v1/testimonials")
	require.Len(t, calls, 1)
	assert.Equal(t, "return=representation", calls[0].Header.Get("Prefer"))
	var rows []map[string]any
	calls[0].decode(t, &rows)
	assert.Equal(t, map[string]any{"name": "Sari", "review": "Enak!", "rating": float64(5), "user_id": nil}, rows[0])
}

func TestTestimonialAdd_SignedInAttributes(t *testing.T) {
	b, c := newBackend(t)
	b.reply("POST /rest/v1/testimonials", http.StatusCreated, []map[string]any{{"id": 12, "rating": 4}})
	s := NewTestimonialService(c, member())

	_, err := s.Add(context.Background(), TestimonialInput{Name: "Dewi", Review: "Mantap", Rating: 4})
	require.NoError(t, err)
	var rows []map[string]any
	b.recorded("POST /rest/v1/testimonials")[0].decode(t, &rows)
	assert.Equal(t, userID.String(), rows[0]["user_id"])
}

func TestTestimonial_RatingRange(t *testing.T) {
	for _, r := range []int{0, -1, 6} {
		b, c := newBackend(t)
		s := NewTestimonialService(c, administrator())
		_, err := s.Add(context.Background(), TestimonialInput{Name: "Sari", Review: "ok", Rating: r})
		assert.ErrorIs(t, err, ErrInvalidRating, "rating %d", r)
		_, err = s.Update(context.Background(), "1", TestimonialInput{Name: "Sari", Review: "ok", Rating: r})
		assert.ErrorIs(t, err, ErrInvalidRating, "rating %d", r)
		assert.Empty(t, b.all())
	}
}

func TestTestimonial_EmptyAfterStrip(t *testing.T) {
	_, c := newBackend(t)
	s := NewTestimonialService(c, anonymous())
	_, err := s.Add(context.Background(), TestimonialInput{Name: "Sari", Review: "<script>x</script>", Rating: 3})
	var ve *sanitize.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "review", ve.Field)
}

func TestTestimonialLatestDefaultsToFive(t *testing.T) {
	b, c := newBackend(t)
	b.reply("GET /rest/v1/testimonials", http.StatusOK, []any{})
	s := NewTestimonialService(c, anonymous())

	_, err := s.Latest(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.Latest(context.Background(), 3)
	require.NoError(t, err)

	calls := b.recorded("GET /rest/v1/testimonials")
	require.Len(t, calls, 2)
	assert.Equal(t, "5", calls[0].Query.Get("limit"))
	assert.Equal(t, "3", calls[1].Query.Get("limit"))
	assert.Equal(t, "created_at.desc", calls[0].Query.Get("order"))
}

func TestTestimonialForUser(t *testing.T) {
	b, c := newBackend(t)
	b.reply("GET /rest/v1/testimonials", http.StatusOK, []any{})
	s := NewTestimonialService(c, member())

	_, err := s.ForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "eq."+userID.String(), b.recorded("GET /rest/v1/testimonials")[0].Query.Get("user_id"))
}

func TestTestimonialUpdate(t *testing.T) {
	b, c := newBackend(t)
	rows := []map[string]any{{"id": 3, "name": "Sari", "review": "Lebih enak", "rating": 4}}
	b.on("PATCH /rest/v1/testimonials", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rows)
	})
	s := NewTestimonialService(c, member())

	got, err := s.Update(context.Background(), "3", TestimonialInput{Name: "Sari", Review: "Lebih enak", Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)
	assert.Equal(t, "eq.3", b.recorded("PATCH /rest/v1/testimonials")[0].Query.Get("id"))

	// the platform filtered the row out
	rows = nil
	_, err = s.Update(context.Background(), "3", TestimonialInput{Name: "Sari", Review: "x", Rating: 4})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewTestimonialService(c, anonymous()).Update(context.Background(), "3", TestimonialInput{Name: "Sari", Review: "x", Rating: 4})
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestTestimonialDelete_AdminOnly(t *testing.T) {
	b, c := newBackend(t)
	b.reply("DELETE /rest/v1/testimonials", http.StatusNoContent, nil)

	err := NewTestimonialService(c, anonymous()).Delete(context.Background(), "5")
	assert.ErrorIs(t, err, authz.ErrUnauthenticated)
	err = NewTestimonialService(c, member()).Delete(context.Background(), "5")
	assert.ErrorIs(t, err, authz.ErrForbidden)
	assert.Empty(t, b.all())

	require.NoError(t, NewTestimonialService(c, administrator()).Delete(context.Background(), "5"))
	assert.Equal(t, "eq.5", b.recorded("DELETE /rest/v1/testimonials")[0].Query.Get("id"))
}
