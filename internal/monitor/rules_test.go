package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

func TestParseConditionComparison(t *testing.T) {
	cond, err := ParseCondition("failure_rate > 20")
	require.NoError(t, err)
	assert.Equal(t, "failure_rate > 20", cond.String())

	assert.False(t, cond.Eval(Context{FailureRate: 20}))
	assert.True(t, cond.Eval(Context{FailureRate: 20.5}))
}

func TestParseConditionOr(t *testing.T) {
	cond, err := ParseCondition("cpu > 80 || memory > 80")
	require.NoError(t, err)

	assert.True(t, cond.Eval(Context{CPU: 85}))
	assert.True(t, cond.Eval(Context{Memory: 85}))
	assert.False(t, cond.Eval(Context{CPU: 50, Memory: 50}))
}

func TestParseConditionOperators(t *testing.T) {
	tests := []struct {
		expr string
		ctx  Context
		want bool
	}{
		{"execution_time >= 1000", Context{ExecutionTime: 1000}, true},
		{"execution_time < 1000", Context{ExecutionTime: 999}, true},
		{"success_rate <= 50", Context{SuccessRate: 50}, true},
		{"disk == 70", Context{Disk: 70}, true},
		{"disk == 70", Context{Disk: 71}, false},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			cond, err := ParseCondition(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cond.Eval(tc.ctx))
		})
	}
}

func TestParseConditionRejectsMalformedInput(t *testing.T) {
	for _, expr := range []string{
		"",
		"cpu >",
		"cpu > high",
		"cpu ~ 80",
		"load > 80",
		"cpu > 80 || load > 80",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseCondition(expr)
			assert.Error(t, err)
		})
	}
}

func TestDefaultRules(t *testing.T) {
	rules := defaultRules("t1")
	require.Len(t, rules, 3)

	assert.Equal(t, "t1_execution_time", rules[0].ID)
	assert.Equal(t, task.SeverityWarning, rules[0].Severity)
	assert.True(t, rules[0].cond.Eval(Context{ExecutionTime: 300001}))
	assert.False(t, rules[0].cond.Eval(Context{ExecutionTime: 300000}))

	assert.Equal(t, "t1_failure_rate", rules[1].ID)
	assert.Equal(t, task.SeverityError, rules[1].Severity)
	assert.True(t, rules[1].cond.Eval(Context{FailureRate: 25}))

	assert.Equal(t, "t1_resource_usage", rules[2].ID)
	assert.True(t, rules[2].cond.Eval(Context{Memory: 90}))

	for _, r := range rules {
		assert.True(t, r.Enabled)
		assert.Equal(t, DefaultCooldown, r.Cooldown)
	}
}
