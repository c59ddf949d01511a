package task

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldSchema describes one config field of a task type.
type FieldSchema struct {
	Type     string       `json:"type"` // string, number, boolean, array
	Required bool         `json:"required"`
	Enum     []string     `json:"enum,omitempty"`
	Min      *float64     `json:"min,omitempty"`
	Max      *float64     `json:"max,omitempty"`
	Items    *FieldSchema `json:"items,omitempty"`
	Label    string       `json:"label"`
}

// TypeConfig describes a registered task type: its supported platforms and
// the schema its Config map must satisfy.
type TypeConfig struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	SupportedPlatforms []Platform             `json:"supported_platforms"`
	ConfigSchema       map[string]FieldSchema `json:"config_schema"`
}

// Registry holds the task type catalog and validates task specs against it.
type Registry struct {
	configs  map[Type]TypeConfig
	validate *validator.Validate
}

func f64(v float64) *float64 { return &v }

// NewRegistry returns a registry preloaded with the builtin task types.
func NewRegistry() *Registry {
	return &Registry{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		configs: map[Type]TypeConfig{
			TypePublish: {
				Name:        "content publish",
				Description: "publish content to the configured platforms",
				SupportedPlatforms: []Platform{
					PlatformDouyin, PlatformXiaohongshu, PlatformWechat,
					PlatformKuaishou, PlatformBilibili, PlatformBaijia, PlatformTiktok,
				},
				ConfigSchema: map[string]FieldSchema{
					"contentType":         {Type: "string", Required: true, Enum: []string{"video", "image", "text"}, Label: "content type"},
					"fileIds":             {Type: "array", Required: true, Items: &FieldSchema{Type: "string"}, Label: "file ids"},
					"titleTemplate":       {Type: "string", Label: "title template"},
					"descriptionTemplate": {Type: "string", Label: "description template"},
					"hashtags":            {Type: "array", Items: &FieldSchema{Type: "string"}, Label: "hashtags"},
					"publishTime":         {Type: "string", Label: "publish time"},
				},
			},
			TypeAnalysis: {
				Name:        "data analysis",
				Description: "generate platform analytics reports",
				SupportedPlatforms: []Platform{
					PlatformDouyin, PlatformXiaohongshu, PlatformWechat,
					PlatformKuaishou, PlatformBilibili,
				},
				ConfigSchema: map[string]FieldSchema{
					"analysisTypes":     {Type: "array", Required: true, Items: &FieldSchema{Type: "string", Enum: []string{"content", "audience", "performance", "competitor"}}, Label: "analysis types"},
					"dateRange":         {Type: "array", Required: true, Items: &FieldSchema{Type: "string"}, Label: "date range"},
					"dataSources":       {Type: "array", Required: true, Items: &FieldSchema{Type: "string", Enum: []string{"api", "database", "file", "third_party"}}, Label: "data sources"},
					"exportFormat":      {Type: "string", Enum: []string{"pdf", "excel", "json"}, Label: "export format"},
					"emailNotification": {Type: "boolean", Label: "email notification"},
				},
			},
			TypeMonitor: {
				Name:        "account monitor",
				Description: "watch account metrics and abnormal behavior",
				SupportedPlatforms: []Platform{
					PlatformDouyin, PlatformXiaohongshu, PlatformWechat, PlatformKuaishou,
				},
				ConfigSchema: map[string]FieldSchema{
					"metrics":       {Type: "array", Required: true, Items: &FieldSchema{Type: "string", Enum: []string{"followers", "likes", "comments", "shares", "engagement"}}, Label: "metrics"},
					"threshold":     {Type: "number", Required: true, Min: f64(0), Max: f64(100), Label: "alert threshold"},
					"alertMethods":  {Type: "array", Required: true, Items: &FieldSchema{Type: "string", Enum: []string{"email", "sms", "notification", "webhook"}}, Label: "alert methods"},
					"checkInterval": {Type: "number", Min: f64(1), Max: f64(1440), Label: "check interval (minutes)"},
					"webhookUrl":    {Type: "string", Label: "webhook url"},
				},
			},
			TypeSync: {
				Name:        "data sync",
				Description: "sync platform data to local storage",
				SupportedPlatforms: []Platform{
					PlatformDouyin, PlatformXiaohongshu, PlatformWechat,
					PlatformKuaishou, PlatformBilibili,
				},
				ConfigSchema: map[string]FieldSchema{
					"syncTypes":          {Type: "array", Required: true, Items: &FieldSchema{Type: "string", Enum: []string{"posts", "analytics", "followers", "comments"}}, Label: "sync types"},
					"targetDatabase":     {Type: "string", Required: true, Label: "target database"},
					"conflictResolution": {Type: "string", Enum: []string{"overwrite", "merge", "skip"}, Label: "conflict resolution"},
					"incrementalSync":    {Type: "boolean", Label: "incremental sync"},
					"cleanupOld":         {Type: "boolean", Label: "cleanup old data"},
				},
			},
			TypeMaintenance: {
				Name:               "system maintenance",
				Description:        "run maintenance and cleanup jobs",
				SupportedPlatforms: []Platform{PlatformSystem},
				ConfigSchema: map[string]FieldSchema{
					"maintenanceType": {Type: "string", Required: true, Enum: []string{"cleanup", "backup", "update", "optimize"}, Label: "maintenance type"},
					"targetPaths":     {Type: "array", Items: &FieldSchema{Type: "string"}, Label: "target paths"},
					"retentionDays":   {Type: "number", Min: f64(1), Max: f64(365), Label: "retention days"},
					"excludePatterns": {Type: "array", Items: &FieldSchema{Type: "string"}, Label: "exclude patterns"},
					"sendReport":      {Type: "boolean", Label: "send report"},
				},
			},
		},
	}
}

// Get returns the config for a task type.
func (r *Registry) Get(t Type) (TypeConfig, bool) {
	cfg, ok := r.configs[t]
	return cfg, ok
}

// Types lists the registered task types.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.configs))
	for t := range r.configs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ValidateSpec checks a task against the static rules and its type's config
// schema. It collects every violation and returns them in a single
// *ValidationError rather than stopping at the first.
func (r *Registry) ValidateSpec(t *Task) error {
	var violations []string

	if err := r.validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := isValidationErrors(err, &fieldErrs); ok {
			for _, fe := range fieldErrs {
				violations = append(violations, describeFieldError(fe))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	cfg, ok := r.configs[t.Type]
	if !ok {
		violations = append(violations, fmt.Sprintf("unknown task type %q", t.Type))
		if len(violations) > 0 {
			return &ValidationError{Violations: violations}
		}
		return nil
	}

	for _, p := range t.Platforms {
		if !slices.Contains(cfg.SupportedPlatforms, p) {
			violations = append(violations, fmt.Sprintf("platform %q is not supported by task type %q", p, t.Type))
		}
	}

	violations = append(violations, validateConfig(cfg.ConfigSchema, t.Config)...)

	if t.Schedule.Type == ScheduleCustom {
		if _, err := ParseCron(t.Schedule.Cron); err != nil {
			violations = append(violations, fmt.Sprintf("invalid cron expression %q: %v", t.Schedule.Cron, err))
		}
	}
	if t.Schedule.At != "" {
		if _, _, err := parseClock(t.Schedule.At); err != nil {
			violations = append(violations, fmt.Sprintf("invalid schedule time %q: %v", t.Schedule.At, err))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

func validateConfig(schema map[string]FieldSchema, config map[string]any) []string {
	var violations []string
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, field := range keys {
		fs := schema[field]
		value, present := config[field]
		if !present || value == nil {
			if fs.Required {
				violations = append(violations, fmt.Sprintf("config field %q is required", field))
			}
			continue
		}
		violations = append(violations, checkValue(field, fs, value)...)
	}
	return violations
}

func checkValue(field string, fs FieldSchema, value any) []string {
	var violations []string
	switch fs.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return []string{fmt.Sprintf("config field %q must be a string", field)}
		}
		if len(fs.Enum) > 0 && !slices.Contains(fs.Enum, s) {
			violations = append(violations, fmt.Sprintf("config field %q must be one of: %s", field, strings.Join(fs.Enum, ", ")))
		}
	case "number":
		n, ok := toFloat(value)
		if !ok {
			return []string{fmt.Sprintf("config field %q must be a number", field)}
		}
		if fs.Min != nil && n < *fs.Min {
			violations = append(violations, fmt.Sprintf("config field %q must be >= %g", field, *fs.Min))
		}
		if fs.Max != nil && n > *fs.Max {
			violations = append(violations, fmt.Sprintf("config field %q must be <= %g", field, *fs.Max))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			violations = append(violations, fmt.Sprintf("config field %q must be a boolean", field))
		}
	case "array":
		items, ok := toSlice(value)
		if !ok {
			return []string{fmt.Sprintf("config field %q must be an array", field)}
		}
		if fs.Items != nil {
			for i, item := range items {
				violations = append(violations, checkValue(fmt.Sprintf("%s[%d]", field, i), *fs.Items, item)...)
			}
		}
	}
	return violations
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
