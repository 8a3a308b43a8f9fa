package service

import (
	"context"
	"encoding/json"
	"slices"

	"mealgate/webclient/internal/platform"

	"github.com/google/uuid"
)

// SchemaReport describes what the platform project looks like from this
// client. Each probe fails on its own; its error is recorded and the rest run.
type SchemaReport struct {
	Tables              json.RawMessage   `json:"tables,omitempty"`
	SubscriptionColumns []string          `json:"subscription_columns"`
	ProfileColumns      []string          `json:"profile_columns"`
	UserID              *uuid.UUID        `json:"user_id,omitempty"`
	UserMetadata        map[string]any    `json:"user_metadata,omitempty"`
	Errors              map[string]string `json:"errors,omitempty"`
}

// ProbeSchema calls get_schema_info and reads the columns of one subscriptions
// row and one profiles row.
func ProbeSchema(ctx context.Context, c *platform.Client, a Authorizer) SchemaReport {
	rep := SchemaReport{Errors: map[string]string{}}

	if raw, err := c.RPC(ctx, "get_schema_info", nil).Unwrap(); err != nil {
		rep.Errors["tables"] = err.Error()
	} else {
		rep.Tables = raw
	}

	var err error
	if rep.SubscriptionColumns, err = columns(ctx, c, platform.TableSubscriptions); err != nil {
		rep.Errors[platform.TableSubscriptions] = err.Error()
	}
	if rep.ProfileColumns, err = columns(ctx, c, platform.TableProfiles); err != nil {
		rep.Errors[platform.TableProfiles] = err.Error()
	}

	u, err := a.CurrentUser(ctx)
	switch {
	case err != nil:
		rep.Errors["user"] = err.Error()
	case u != nil:
		rep.UserID = &u.ID
		rep.UserMetadata = u.UserMetadata
	}
	if len(rep.Errors) == 0 {
		rep.Errors = nil
	}
	return rep
}

// columns returns the sorted keys of the first row, or nil for an empty table.
func columns(ctx context.Context, c *platform.Client, table string) ([]string, error) {
	rows, err := platform.Decode[[]map[string]json.RawMessage](c.From(table).Select("*").Limit(1).Get(ctx)).Unwrap()
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols, nil
}
