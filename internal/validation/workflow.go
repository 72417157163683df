package validation

import (
	"github.com/robfig/cron/v3"

	"github.com/gridhaus/leadflow/pkg/schema"
)

// conditionLanguages is the closed set of selectable condition engines.
var conditionLanguages = map[string]bool{
	"":     true, // defaults at evaluation time
	"expr": true,
	"cel":  true,
	"jq":   true,
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateWorkflow checks the workflow-level fields that the definition
// schema does not cover: name, condition language, and the cron schedule.
func ValidateWorkflow(name, conditionLanguage, schedule string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if !conditionLanguages[conditionLanguage] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition language %q (want expr, cel, or jq)", conditionLanguage)
	}
	if schedule != "" {
		if _, err := cronParser.Parse(schedule); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"invalid cron schedule %q: %s", schedule, err.Error()).WithCause(err)
		}
	}
	return nil
}
