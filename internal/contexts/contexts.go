// Package contexts provides the prompt context providers backed by the
// domain read services.
package contexts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/composer/pkg/promptcontext"
)

// Provider names
const (
	ContextUser              = "user"
	ContextFitnessProfile    = "fitnessProfile"
	ContextFitnessPlan       = "fitnessPlan"
	ContextCurrentWorkout    = "currentWorkout"
	ContextCurrentMicrocycle = "currentMicrocycle"
	ContextEnrollment        = "enrollment"
	ContextExercises         = "exercises"
)

// Parameter names
const (
	ParamUser          = "user"
	ParamDate          = "date"
	ParamExerciseNames = "exerciseNames"
)

const dateLayout = "2006-01-02"

// User is the subset of a user record prompts need
type User struct {
	ID       string
	Name     string
	Timezone string
}

// Plan is a user's current fitness plan
type Plan struct {
	Name        string
	Description string
}

// Workout is one scheduled session
type Workout struct {
	Date        time.Time
	Theme       string
	Description string
}

// Microcycle is one scheduled week
type Microcycle struct {
	Number      int
	Theme       string
	Description string
}

// Enrollment is a user's program enrollment
type Enrollment struct {
	Program   string
	Status    string
	StartDate time.Time
}

// Exercise is a catalog entry
type Exercise struct {
	Name      string
	Muscles   []string
	Equipment string
}

// ProfileReader reads users and their fitness profiles. Lookups that find
// nothing return nil and no error.
type ProfileReader interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetFitnessProfile(ctx context.Context, userID string) (string, error)
}

type PlanReader interface {
	GetCurrentPlan(ctx context.Context, userID string) (*Plan, error)
}

type WorkoutReader interface {
	GetWorkout(ctx context.Context, userID string, date time.Time) (*Workout, error)
}

type MicrocycleReader interface {
	GetMicrocycle(ctx context.Context, userID string, date time.Time) (*Microcycle, error)
}

type EnrollmentReader interface {
	GetEnrollment(ctx context.Context, userID string) (*Enrollment, error)
}

type ExerciseCatalog interface {
	LookupExercises(ctx context.Context, names []string) ([]Exercise, error)
}

// Services holds the read services; nil services have no providers registered
type Services struct {
	Profiles    ProfileReader
	Plans       PlanReader
	Workouts    WorkoutReader
	Microcycles MicrocycleReader
	Enrollments EnrollmentReader
	Exercises   ExerciseCatalog

	// Now supplies the default date (defaults to time.Now)
	Now func() time.Time
}

// Register adds a provider to reg for every configured service
func Register(reg *promptcontext.Registry, svc Services) error {
	if svc.Now == nil {
		svc.Now = time.Now
	}
	for _, p := range svc.providers() {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func (s Services) providers() []promptcontext.Provider {
	userOnly := promptcontext.ParamSpec{Required: []string{ParamUser}}
	userAndDate := promptcontext.ParamSpec{Required: []string{ParamUser}, Optional: []string{ParamDate}}

	var out []promptcontext.Provider
	if s.Profiles != nil {
		out = append(out,
			&promptcontext.Definition{
				ProviderName: ContextUser,
				Desc:         "Basic user information",
				Spec:         userOnly,
				Variables:    []string{"userName", "timezone"},
				ResolveFn:    s.resolveUser,
			},
			&promptcontext.Definition{
				ProviderName: ContextFitnessProfile,
				Desc:         "The user's fitness profile",
				Spec:         userOnly,
				Variables:    []string{"fitnessProfile"},
				ResolveFn:    s.resolveProfile,
			},
		)
	}
	if s.Plans != nil {
		out = append(out, &promptcontext.Definition{
			ProviderName: ContextFitnessPlan,
			Desc:         "The user's current fitness plan",
			Spec:         userOnly,
			Variables:    []string{"fitnessPlan"},
			ResolveFn:    s.resolvePlan,
		})
	}
	if s.Workouts != nil {
		out = append(out, &promptcontext.Definition{
			ProviderName: ContextCurrentWorkout,
			Desc:         "The workout scheduled for the date (default today)",
			Spec:         userAndDate,
			Variables:    []string{"workout"},
			ResolveFn:    s.resolveWorkout,
		})
	}
	if s.Microcycles != nil {
		out = append(out, &promptcontext.Definition{
			ProviderName: ContextCurrentMicrocycle,
			Desc:         "The week containing the date (default today)",
			Spec:         userAndDate,
			Variables:    []string{"microcycle"},
			ResolveFn:    s.resolveMicrocycle,
		})
	}
	if s.Enrollments != nil {
		out = append(out, &promptcontext.Definition{
			ProviderName: ContextEnrollment,
			Desc:         "The user's program enrollment",
			Spec:         userOnly,
			Variables:    []string{"program"},
			ResolveFn:    s.resolveEnrollment,
		})
	}
	if s.Exercises != nil {
		out = append(out, &promptcontext.Definition{
			ProviderName: ContextExercises,
			Desc:         "Catalog entries for named exercises",
			Spec:         promptcontext.ParamSpec{Required: []string{ParamExerciseNames}},
			Variables:    []string{"exercises"},
			ResolveFn:    s.resolveExercises,
		})
	}
	return out
}

func userID(p promptcontext.Params) (string, error) {
	switch v := p[ParamUser].(type) {
	case string:
		return v, nil
	case *User:
		return v.ID, nil
	case User:
		return v.ID, nil
	}
	return "", fmt.Errorf("param %q must be a user id or *User", ParamUser)
}

// date reads the optional date param, falling back to now
func (s Services) date(p promptcontext.Params) (time.Time, error) {
	switch v := p[ParamDate].(type) {
	case nil:
		return s.Now(), nil
	case time.Time:
		return v, nil
	case string:
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("param %q: %w", ParamDate, err)
		}
		return d, nil
	}
	return time.Time{}, fmt.Errorf("param %q must be a time.Time or YYYY-MM-DD string", ParamDate)
}

func (s Services) resolveUser(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	u, err := s.Profiles.GetUser(ctx, id)
	if err != nil || u == nil {
		return "", err
	}
	text := "User: " + u.Name
	if u.Timezone != "" {
		text += "\nTimezone: " + u.Timezone
	}
	return text, nil
}

func (s Services) resolveProfile(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	profile, err := s.Profiles.GetFitnessProfile(ctx, id)
	if err != nil || strings.TrimSpace(profile) == "" {
		return "", err
	}
	return "Fitness profile:\n" + profile, nil
}

func (s Services) resolvePlan(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	plan, err := s.Plans.GetCurrentPlan(ctx, id)
	if err != nil || plan == nil {
		return "", err
	}
	return fmt.Sprintf("Current fitness plan: %s\n%s", plan.Name, plan.Description), nil
}

func (s Services) resolveWorkout(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	date, err := s.date(p)
	if err != nil {
		return "", err
	}
	w, err := s.Workouts.GetWorkout(ctx, id, date)
	if err != nil || w == nil {
		return "", err
	}
	return fmt.Sprintf("Workout for %s (%s):\n%s", w.Date.Format(dateLayout), w.Theme, w.Description), nil
}

func (s Services) resolveMicrocycle(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	date, err := s.date(p)
	if err != nil {
		return "", err
	}
	m, err := s.Microcycles.GetMicrocycle(ctx, id, date)
	if err != nil || m == nil {
		return "", err
	}
	return fmt.Sprintf("Current week %d (%s):\n%s", m.Number, m.Theme, m.Description), nil
}

func (s Services) resolveEnrollment(ctx context.Context, p promptcontext.Params) (string, error) {
	id, err := userID(p)
	if err != nil {
		return "", err
	}
	e, err := s.Enrollments.GetEnrollment(ctx, id)
	if err != nil || e == nil {
		return "", err
	}
	return fmt.Sprintf("Enrolled in %s since %s (%s)", e.Program, e.StartDate.Format(dateLayout), e.Status), nil
}

func (s Services) resolveExercises(ctx context.Context, p promptcontext.Params) (string, error) {
	var names []string
	switch v := p[ParamExerciseNames].(type) {
	case []string:
		names = append([]string(nil), v...)
	case string:
		names = strings.Split(v, ",")
	default:
		return "", fmt.Errorf("param %q must be a list of names", ParamExerciseNames)
	}
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}

	exercises, err := s.Exercises.LookupExercises(ctx, names)
	if err != nil || len(exercises) == 0 {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Exercises:")
	for _, e := range exercises {
		fmt.Fprintf(&b, "\n- %s", e.Name)
		if len(e.Muscles) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(e.Muscles, ", "))
		}
		if e.Equipment != "" {
			fmt.Fprintf(&b, ", equipment: %s", e.Equipment)
		}
	}
	return b.String(), nil
}
