package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/scripting"
)

// standardCommand runs one control primitive and returns its output.
// A non-zero code is reported as the command's result_success.
type standardCommand func(r *Executor, ctx context.Context, params map[string]interface{}) (output interface{}, code int, err error)

var standardCommands map[string]standardCommand

func init() {
	standardCommands = map[string]standardCommand{
		"sleep":        cmdSleep,
		"wait":         cmdSleep,
		"echo":         cmdEcho,
		"fail":         cmdFail,
		"set_variable": cmdSetVariable,
		"evaluate":     cmdEvaluate,
		"sequence":     nil, // handled by runStandard
	}
}

// runStandard runs the command, or each entry of params.commands for "sequence".
// A sequence stops at the first failing command.
func (r *Executor) runStandard(ctx context.Context, job models.ExecutionJob, exec *execution) (*models.StandardResult, error) {
	steps := []models.Action{{Command: job.Command, Params: job.Params}}
	if job.Command == "sequence" {
		var err error
		steps, err = parseActions(job.Params["commands"])
		if err != nil {
			return nil, err
		}
	}

	result := &models.StandardResult{Results: []models.StandardCommandResult{}}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := models.StandardCommandResult{Command: step.Command}
		cmd := standardCommands[step.Command]
		if cmd == nil {
			entry.ResultSuccess = 127
			entry.Error = fmt.Sprintf("unknown command %q", step.Command)
		} else {
			output, code, err := cmd(r, ctx, step.Params)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if code == 0 {
					code = 1
				}
				entry.Error = err.Error()
			}
			entry.ResultSuccess = code
			entry.ResultOutput = output
		}

		if entry.ResultSuccess == 0 {
			exec.log(r.clock, "info", step.Command, fmt.Sprintf("ok: %v", entry.ResultOutput))
		} else {
			exec.log(r.clock, "error", step.Command, fmt.Sprintf("exit %d: %s", entry.ResultSuccess, entry.Error))
		}

		result.Results = append(result.Results, entry)
		if entry.ResultSuccess != 0 {
			break
		}
	}

	result.Logs = exec.text()
	return result, nil
}

// cmdSleep waits for params.duration ("1.5s" or seconds), or until params.time
// (RFC3339) when params.type is "until_time"
func cmdSleep(r *Executor, ctx context.Context, params map[string]interface{}) (interface{}, int, error) {
	waitType, _ := params["type"].(string)
	switch waitType {
	case "duration", "":
		d, err := durationParam(params["duration"])
		if err != nil {
			return nil, 2, err
		}
		if err := r.clock.Sleep(ctx, d); err != nil {
			return nil, 1, err
		}
		return fmt.Sprintf("slept %s", d), 0, nil

	case "until_time":
		timeStr, ok := params["time"].(string)
		if !ok {
			return nil, 2, fmt.Errorf("time parameter is required for until_time wait type")
		}
		target, err := time.Parse(time.RFC3339, timeStr)
		if err != nil {
			return nil, 2, fmt.Errorf("invalid time format, expected RFC3339 (e.g., 2006-01-02T15:04:05Z): %w", err)
		}
		if wait := target.Sub(r.clock.Now()); wait > 0 {
			if err := r.clock.Sleep(ctx, wait); err != nil {
				return nil, 1, err
			}
		}
		return fmt.Sprintf("waited until %s", timeStr), 0, nil

	default:
		return nil, 2, fmt.Errorf("unknown wait type: %s", waitType)
	}
}

func cmdEcho(_ *Executor, _ context.Context, params map[string]interface{}) (interface{}, int, error) {
	return fmt.Sprint(params["message"]), 0, nil
}

func cmdFail(_ *Executor, _ context.Context, params map[string]interface{}) (interface{}, int, error) {
	code := 1
	if c, ok := numberParam(params["exit_code"]); ok && c != 0 {
		code = int(c)
	}
	msg, _ := params["message"].(string)
	if msg == "" {
		msg = "failed on request"
	}
	return nil, code, fmt.Errorf("%s", msg)
}

func cmdSetVariable(_ *Executor, _ context.Context, params map[string]interface{}) (interface{}, int, error) {
	value, ok := params["value"]
	if !ok {
		return nil, 2, fmt.Errorf("value parameter is required")
	}
	return value, 0, nil
}

// cmdEvaluate runs params.expression as JavaScript with params.context as variables
func cmdEvaluate(_ *Executor, _ context.Context, params map[string]interface{}) (interface{}, int, error) {
	expr, _ := params["expression"].(string)
	if expr == "" {
		return nil, 2, fmt.Errorf("expression parameter is required")
	}
	vars, _ := params["context"].(map[string]interface{})
	if !scripting.IsExpression(expr) {
		expr = "${" + expr + "}"
	}

	value, err := scripting.NewJSExpressionEvaluator().Evaluate(expr, vars)
	if err != nil {
		return nil, 1, err
	}
	return value, 0, nil
}

func durationParam(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed, nil
		}
		secs, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %q", d)
		}
		return time.Duration(secs * float64(time.Second)), nil
	case nil:
		return 0, fmt.Errorf("duration parameter is required")
	default:
		secs, ok := numberParam(d)
		if !ok {
			return 0, fmt.Errorf("invalid duration: %v", d)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

func numberParam(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// parseActions reads a list of {command, params} maps
func parseActions(v interface{}) ([]models.Action, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("a non-empty list of commands is required")
	}

	actions := make([]models.Action, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		cmd, _ := m["command"].(string)
		if cmd == "" {
			return nil, fmt.Errorf("entry %d has no command", i)
		}
		params, _ := m["params"].(map[string]interface{})
		actions = append(actions, models.Action{Command: cmd, Params: params})
	}
	return actions, nil
}
