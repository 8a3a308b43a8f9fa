package service

import (
	"context"
	"time"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"

	"github.com/google/uuid"
)

const defaultLatest = 5

type Testimonial struct {
	ID        RowID      `json:"id"`
	UserID    *uuid.UUID `json:"user_id"`
	Name      string     `json:"name"`
	Review    string     `json:"review"`
	Rating    int        `json:"rating"`
	CreatedAt time.Time  `json:"created_at"`
}

type TestimonialInput struct {
	Name   string `json:"name"`
	Review string `json:"review"`
	Rating int    `json:"rating"`
}

type testimonialRow struct {
	Name   string     `json:"name"`
	Review string     `json:"review"`
	Rating int        `json:"rating"`
	UserID *uuid.UUID `json:"user_id"`
}

type TestimonialService struct {
	client *platform.Client
	authz  Authorizer
}

func NewTestimonialService(c *platform.Client, a Authorizer) *TestimonialService {
	return &TestimonialService{client: c, authz: a}
}

func (s *TestimonialService) list(ctx context.Context, q *platform.Query) ([]Testimonial, error) {
	return platform.Decode[[]Testimonial](q.Select("*").Order("created_at", false).Get(ctx)).Unwrap()
}

func (s *TestimonialService) All(ctx context.Context) ([]Testimonial, error) {
	return s.list(ctx, s.client.From(platform.TableTestimonials))
}

// Latest returns the newest testimonials, five when limit is not positive.
func (s *TestimonialService) Latest(ctx context.Context, limit int) ([]Testimonial, error) {
	if limit <= 0 {
		limit = defaultLatest
	}
	return s.list(ctx, s.client.From(platform.TableTestimonials).Limit(limit))
}

func (s *TestimonialService) ForUser(ctx context.Context, userID uuid.UUID) ([]Testimonial, error) {
	return s.list(ctx, s.client.From(platform.TableTestimonials).Eq("user_id", userID))
}

// The rating range mirrors the table's check constraint.
func checkTestimonial(in TestimonialInput) (testimonialRow, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return testimonialRow{}, ErrInvalidRating
	}
	name, err := field("name", in.Name, sanitize.Text)
	if err == nil && name == "" {
		err = &sanitize.ValidationError{Field: "name", Reason: sanitize.ReasonEmpty}
	}
	if err != nil {
		return testimonialRow{}, err
	}
	review, err := field("review", in.Review, sanitize.Text)
	if err == nil && review == "" {
		err = &sanitize.ValidationError{Field: "review", Reason: sanitize.ReasonEmpty}
	}
	if err != nil {
		return testimonialRow{}, err
	}
	return testimonialRow{Name: name, Review: review, Rating: in.Rating}, nil
}

// Add stores a testimonial, attributed to the signed-in user when there is one.
func (s *TestimonialService) Add(ctx context.Context, in TestimonialInput) (Testimonial, error) {
	row, err := checkTestimonial(in)
	if err != nil {
		return Testimonial{}, err
	}
	u, err := s.authz.CurrentUser(ctx)
	if err != nil {
		return Testimonial{}, err
	}
	if u != nil {
		row.UserID = &u.ID
	}
	t, err := first[Testimonial](s.client.From(platform.TableTestimonials).
		Select("*").
		Insert(ctx, []testimonialRow{row}, true))
	if err != nil {
		return Testimonial{}, err
	}
	httputil.GetLogger(ctx).Info().Str("testimonial_id", t.ID.String()).Int("rating", t.Rating).Msg("testimonial added")
	return t, nil
}

// Update rewrites a testimonial's text and rating. The platform only lets
// owners and administrators change a row; a refused row reads as ErrNotFound.
func (s *TestimonialService) Update(ctx context.Context, id RowID, in TestimonialInput) (Testimonial, error) {
	if _, err := s.authz.RequireUser(ctx); err != nil {
		return Testimonial{}, err
	}
	row, err := checkTestimonial(in)
	if err != nil {
		return Testimonial{}, err
	}
	patch := map[string]any{"name": row.Name, "review": row.Review, "rating": row.Rating}
	return first[Testimonial](s.client.From(platform.TableTestimonials).
		Select("*").
		Eq("id", id).
		Update(ctx, patch, true))
}

// Delete removes a testimonial. Administrators only.
func (s *TestimonialService) Delete(ctx context.Context, id RowID) error {
	admin, err := s.authz.RequireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.client.From(platform.TableTestimonials).Eq("id", id).Delete(ctx).Err(); err != nil {
		return err
	}
	httputil.GetLogger(ctx).Info().Str("testimonial_id", id.String()).Str("admin_id", admin.ID.String()).Msg("testimonial deleted")
	return nil
}
