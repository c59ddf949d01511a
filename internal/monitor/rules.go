package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Context carries the metric values a rule condition is evaluated against.
// ExecutionTime is the last run duration in milliseconds; rates and gauges
// are percentages.
type Context struct {
	ExecutionTime float64
	FailureRate   float64
	SuccessRate   float64
	CPU           float64
	Memory        float64
	Disk          float64
}

func (c Context) value(metric string) (float64, bool) {
	switch metric {
	case "execution_time":
		return c.ExecutionTime, true
	case "failure_rate":
		return c.FailureRate, true
	case "success_rate":
		return c.SuccessRate, true
	case "cpu":
		return c.CPU, true
	case "memory":
		return c.Memory, true
	case "disk":
		return c.Disk, true
	}
	return 0, false
}

// Condition is a compiled rule expression.
type Condition interface {
	Eval(ctx Context) bool
	String() string
}

// Comparison compares one metric against a threshold.
type Comparison struct {
	Metric    string
	Op        string
	Threshold float64
}

func (c Comparison) Eval(ctx Context) bool {
	v, ok := ctx.value(c.Metric)
	if !ok {
		return false
	}
	switch c.Op {
	case ">":
		return v > c.Threshold
	case ">=":
		return v >= c.Threshold
	case "<":
		return v < c.Threshold
	case "<=":
		return v <= c.Threshold
	case "==":
		return v == c.Threshold
	}
	return false
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Metric, c.Op, strconv.FormatFloat(c.Threshold, 'f', -1, 64))
}

// Or is true when any term is true.
type Or struct {
	Terms []Condition
}

func (o Or) Eval(ctx Context) bool {
	for _, term := range o.Terms {
		if term.Eval(ctx) {
			return true
		}
	}
	return false
}

func (o Or) String() string {
	parts := make([]string, len(o.Terms))
	for i, term := range o.Terms {
		parts[i] = term.String()
	}
	return strings.Join(parts, " || ")
}

// ParseCondition compiles an expression of the form
// "metric OP number [|| metric OP number ...]" where OP is one of
// >, >=, <, <=, ==. Unknown metrics are rejected at parse time.
func ParseCondition(expr string) (Condition, error) {
	terms := strings.Split(expr, "||")
	parsed := make([]Condition, 0, len(terms))
	for _, raw := range terms {
		cmp, err := parseComparison(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse condition %q: %w", expr, err)
		}
		parsed = append(parsed, cmp)
	}
	if len(parsed) == 1 {
		return parsed[0], nil
	}
	return Or{Terms: parsed}, nil
}

var comparisonOps = []string{">=", "<=", "==", ">", "<"}

func parseComparison(expr string) (Condition, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return nil, fmt.Errorf("want \"metric op number\", got %q", expr)
	}
	metric, op, raw := fields[0], fields[1], fields[2]

	if !knownMetric(metric) {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	valid := false
	for _, candidate := range comparisonOps {
		if op == candidate {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold %q", raw)
	}
	return Comparison{Metric: metric, Op: op, Threshold: threshold}, nil
}

func knownMetric(metric string) bool {
	_, ok := (Context{}).value(metric)
	return ok
}

// Rule is an alert rule bound to one task. The condition is compiled once
// when the rule is registered.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Condition   string        `json:"condition"`
	Severity    task.Severity `json:"severity"`
	Enabled     bool          `json:"enabled"`
	Description string        `json:"description"`
	Cooldown    time.Duration `json:"cooldown"`

	cond          Condition
	lastTriggered time.Time
}

// DefaultCooldown gates re-triggering of the same rule.
const DefaultCooldown = 5 * time.Minute

// RuleSpec is the input for registering a rule.
type RuleSpec struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Condition   string        `json:"condition"`
	Severity    task.Severity `json:"severity"`
	Enabled     *bool         `json:"enabled"`
	Description string        `json:"description"`
	Cooldown    time.Duration `json:"cooldown"`
}

func defaultRules(taskID string) []*Rule {
	mustRule := func(id, name, condition string, severity task.Severity, description string) *Rule {
		cond, err := ParseCondition(condition)
		if err != nil {
			panic(err) // builtin conditions are constants
		}
		return &Rule{
			ID:          taskID + "_" + id,
			Name:        name,
			Condition:   condition,
			Severity:    severity,
			Enabled:     true,
			Description: description,
			Cooldown:    DefaultCooldown,
			cond:        cond,
		}
	}
	return []*Rule{
		mustRule("execution_time", "execution time too long", "execution_time > 300000",
			task.SeverityWarning, "last run took longer than 5 minutes"),
		mustRule("failure_rate", "failure rate too high", "failure_rate > 20",
			task.SeverityError, "more than 20% of runs failed"),
		mustRule("resource_usage", "resource usage too high", "cpu > 80 || memory > 80",
			task.SeverityWarning, "cpu or memory usage above 80%"),
	}
}
