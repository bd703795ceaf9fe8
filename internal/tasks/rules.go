package tasks

import "github.com/academyhub/backend/internal/models"

// AutomationRule is the per-category default applied to a new task.
type AutomationRule struct {
	RequiresApproval bool
	AutoExecute      bool
	AutomationLevel  models.AutomationLevel
	DefaultPriority  models.Priority
}

var automationRules = map[models.TaskCategory]AutomationRule{
	models.CategoryDatabaseChange:  {true, false, models.AutomationManual, models.PriorityHigh},
	models.CategoryWhatsAppMessage: {true, false, models.AutomationSemiAuto, models.PriorityMedium},
	models.CategoryEmail:           {true, false, models.AutomationSemiAuto, models.PriorityMedium},
	models.CategorySMS:             {true, false, models.AutomationSemiAuto, models.PriorityMedium},
	models.CategoryMarketing:       {true, false, models.AutomationSemiAuto, models.PriorityLow},
	models.CategoryBilling:         {true, false, models.AutomationAutoLowRisk, models.PriorityHigh},
	models.CategoryEnrollment:      {true, false, models.AutomationSemiAuto, models.PriorityMedium},
}

// fallbackRule applies to a category missing from the table.
var fallbackRule = AutomationRule{true, false, models.AutomationManual, models.PriorityMedium}

// RuleFor returns the automation defaults of category c.
func RuleFor(c models.TaskCategory) AutomationRule {
	if r, ok := automationRules[c]; ok {
		return r
	}
	return fallbackRule
}
