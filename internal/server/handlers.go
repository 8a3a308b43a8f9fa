package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"mealgate/webclient/internal/circuitbreaker"
	"mealgate/webclient/internal/guard"
	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"
	"mealgate/webclient/internal/service"

	"github.com/google/uuid"
)

type homePage struct {
	User         *platform.User        `json:"user"`
	Testimonials []service.Testimonial `json:"testimonials"`
	MealPlans    []service.MealPlan    `json:"meal_plans"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plans, err := s.app.MealPlans.All(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	latest, err := s.app.Testimonials.Latest(ctx, 0)
	respond(w, r, http.StatusOK, homePage{User: guard.UserFrom(ctx), Testimonials: latest, MealPlans: plans}, err)
}

// ---- Auth ----

type authPage struct {
	Page      string `json:"page"`
	GoogleURL string `json:"google_url"`
	Redirect  string `json:"redirect,omitempty"`
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	redirect := ""
	if v := r.URL.Query().Get("redirect"); v != "" {
		redirect = httputil.SanitizeReturnURL(v)
	}
	respond(w, r, http.StatusOK, authPage{Page: "login", GoogleURL: s.app.Auth.GoogleSignInURL(), Redirect: redirect}, nil)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, authPage{Page: "register", GoogleURL: s.app.Auth.GoogleSignInURL()}, nil)
}

type loginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

type signedIn struct {
	User     *platform.User `json:"user"`
	Redirect string         `json:"redirect"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var f loginForm
	if !decode(w, r, &f) {
		return
	}
	// the password is passed through untouched; only the email is a form field
	res := sanitize.ValidateForm(r.Context(), map[string]any{"email": f.Email},
		sanitize.Schema{"email": sanitize.Email},
		func(ctx context.Context, data map[string]string) (signedIn, error) {
			sess, err := s.app.Auth.SignIn(ctx, data["email"], f.Password)
			if err != nil {
				return signedIn{}, err
			}
			return signedIn{User: sess.User, Redirect: httputil.SanitizeReturnURL(f.Redirect)}, nil
		})
	writeForm(w, r, http.StatusOK, res)
}

type registerForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var f registerForm
	if !decode(w, r, &f) {
		return
	}
	res := sanitize.ValidateForm(r.Context(),
		map[string]any{"email": f.Email, "password": f.Password, "full_name": f.FullName},
		sanitize.Schema{"email": sanitize.Email, "password": sanitize.Password, "full_name": sanitize.Name},
		func(ctx context.Context, data map[string]string) (*platform.User, error) {
			return s.app.Auth.SignUp(ctx, data["email"], data["password"], data["full_name"])
		})
	writeForm(w, r, http.StatusCreated, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, struct{}{}, s.app.Auth.SignOut(r.Context()))
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.app.Auth.GoogleSignInURL(), http.StatusFound)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var f struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &f) {
		return
	}
	respond(w, r, http.StatusOK, struct{}{}, s.app.Auth.ResetPassword(r.Context(), f.Email))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var up service.UserUpdate
	if !decode(w, r, &up) {
		return
	}
	u, err := s.app.Auth.UpdateUser(r.Context(), up)
	respond(w, r, http.StatusOK, u, err)
}

// ---- Meal plans ----

func (s *Server) handleMealPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.app.MealPlans.All(r.Context())
	respond(w, r, http.StatusOK, plans, err)
}

func (s *Server) handleMealPlan(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseRowID(r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	plan, err := s.app.MealPlans.ByID(r.Context(), id)
	respond(w, r, http.StatusOK, plan, err)
}

func (s *Server) handleAddMealPlan(w http.ResponseWriter, r *http.Request) {
	var in service.MealPlanInput
	if !decode(w, r, &in) {
		return
	}
	plan, err := s.app.MealPlans.Add(r.Context(), in)
	respond(w, r, http.StatusCreated, plan, err)
}

func (s *Server) handleUpdateMealPlan(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseRowID(r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	var in service.MealPlanInput
	if !decode(w, r, &in) {
		return
	}
	plan, err := s.app.MealPlans.Update(r.Context(), id, in)
	respond(w, r, http.StatusOK, plan, err)
}

func (s *Server) handleDeleteMealPlan(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseRowID(r.PathValue("id"))
	if err == nil {
		err = s.app.MealPlans.Delete(r.Context(), id)
	}
	respond(w, r, http.StatusOK, struct{}{}, err)
}

// ---- Testimonials ----

func (s *Server) handleTestimonials(w http.ResponseWriter, r *http.Request) {
	all, err := s.app.Testimonials.All(r.Context())
	respond(w, r, http.StatusOK, all, err)
}

func (s *Server) handleAddTestimonial(w http.ResponseWriter, r *http.Request) {
	var in service.TestimonialInput
	if !decode(w, r, &in) {
		return
	}
	t, err := s.app.Testimonials.Add(r.Context(), in)
	respond(w, r, http.StatusCreated, t, err)
}

func (s *Server) handleUpdateTestimonial(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseRowID(r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	var in service.TestimonialInput
	if !decode(w, r, &in) {
		return
	}
	t, err := s.app.Testimonials.Update(r.Context(), id, in)
	respond(w, r, http.StatusOK, t, err)
}

func (s *Server) handleDeleteTestimonial(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseRowID(r.PathValue("id"))
	if err == nil {
		err = s.app.Testimonials.Delete(r.Context(), id)
	}
	respond(w, r, http.StatusOK, struct{}{}, err)
}

// ---- Subscriptions ----

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.app.Subscriptions.List(r.Context())
	respond(w, r, http.StatusOK, subs, err)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var in service.SubscriptionInput
	if !decode(w, r, &in) {
		return
	}
	respond(w, r, http.StatusCreated, struct{}{}, s.app.Subscriptions.Create(r.Context(), in))
}

type dashboard struct {
	User          *platform.User         `json:"user"`
	Subscriptions []service.Subscription `json:"subscriptions"`
	Testimonials  []service.Testimonial  `json:"testimonials"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := guard.UserFrom(ctx)
	if u == nil {
		// the guard already sent anonymous visitors to login
		writeFailure(w, r, platform.ErrNoSession)
		return
	}
	subs, err := s.app.Subscriptions.List(ctx)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	mine, err := s.app.Testimonials.ForUser(ctx, u.ID)
	respond(w, r, http.StatusOK, dashboard{User: u, Subscriptions: subs, Testimonials: mine}, err)
}

// ---- Admin ----

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, &sanitize.ValidationError{Field: field, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (s *Server) handleAdminSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	sum, err := s.app.Admin.Summary(r.Context(), start, end)
	respond(w, r, http.StatusOK, sum, err)
}

func (s *Server) handleAdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.app.Admin.Subscriptions(r.Context())
	respond(w, r, http.StatusOK, subs, err)
}

func (s *Server) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, &sanitize.ValidationError{Field: "id", Reason: "invalid user id"})
		return
	}
	p, err := s.app.Admin.UserDetails(r.Context(), id)
	respond(w, r, http.StatusOK, p, err)
}

// ---- CSRF, errors, health ----

type csrfToken struct {
	Token  string `json:"token"`
	Header string `json:"header"`
	Param  string `json:"param"`
}

// handleCSRF hands the token to the page: in the body and as a readable
// cookie for double-submit.
func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	tok, err := s.app.CSRF.Token()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	http.SetCookie(w, s.app.CSRFStore.Cookie(tok))
	respond(w, r, http.StatusOK, csrfToken{Token: tok, Header: s.app.CSRF.HeaderName(), Param: s.app.Config.CSRF.QueryParam}, nil)
}

type errorPage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.URL.Query().Get("code"))
	if err != nil || code < 400 || code > 599 {
		code = http.StatusBadRequest
	}
	msg := http.StatusText(code)
	if code == http.StatusForbidden {
		msg = "the request could not be verified; reload the page and try again"
	}
	httputil.WriteJSON(w, code, errorPage{Code: code, Message: msg})
}

type healthStatus struct {
	Status     string            `json:"status"` // "ok" | "degraded"
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{Status: "ok", Version: Version, Components: map[string]string{}}
	if _, ok := s.app.CSRFStore.Read(); ok {
		st.Components["csrf_token"] = "ok"
	} else {
		st.Status = "degraded"
		st.Components["csrf_token"] = "missing"
	}
	st.Components["platform"] = s.app.Platform.BaseURL()
	st.Components["platform_circuit"] = s.app.Breaker.State().String()
	if s.app.Breaker.State() == circuitbreaker.StateOpen {
		st.Status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}
