package runner

import (
	"context"
	"fmt"

	"github.com/tcmartin/flowconsole/pkg/blocks"
	"github.com/tcmartin/flowconsole/pkg/execution"
	"github.com/tcmartin/flowconsole/pkg/loader"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/scripting"
	"github.com/tcmartin/flowconsole/pkg/session"
)

// DefaultMaxSteps bounds the number of blocks a flow run may execute
const DefaultMaxSteps = 1000

// Options configures a FlowRunner
type Options struct {
	MaxSteps int
	Logger   logging.Logger
}

// FlowResult is the outcome of a run
type FlowResult struct {
	Session   models.RunSession
	Variables map[string]interface{}
}

// FlowRunner executes blocks remotely and reports them to a Coordinator
type FlowRunner struct {
	executor execution.Executor
	coord    *Coordinator
	session  *session.Session
	resolver *scripting.ParamResolver
	logger   logging.Logger
	maxSteps int
}

// NewFlowRunner creates a runner for the device bound to sess
func NewFlowRunner(executor execution.Executor, coord *Coordinator, sess *session.Session, opts Options) *FlowRunner {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &FlowRunner{
		executor: executor,
		coord:    coord,
		session:  sess,
		resolver: scripting.NewParamResolver(),
		logger:   opts.Logger,
		maxSteps: opts.MaxSteps,
	}
}

// Coordinator returns the coordinator the runner reports to
func (r *FlowRunner) Coordinator() *Coordinator {
	return r.coord
}

// RunBlock executes a single block as its own run session
func (r *FlowRunner) RunBlock(ctx context.Context, block *loader.BlockDefinition, vars map[string]interface{}) (*FlowResult, error) {
	r.coord.StartExecution(models.ModeSingleBlock, []string{block.ID})
	vars = copyVars(vars)

	state := r.executeBlock(ctx, block, vars)

	summary := models.RunSummary{Message: state.ErrorMessage}
	switch state.Status {
	case models.BlockSuccess:
		summary.ResultType = models.ResultSuccess
		summary.Message = fmt.Sprintf("block %s succeeded", block.ID)
	case models.BlockFailure:
		summary.ResultType = models.ResultFailure
	default:
		summary.ResultType = models.ResultError
	}

	run, err := r.coord.CompleteExecution(summary)
	if err != nil {
		return nil, err
	}
	return &FlowResult{Session: run, Variables: vars}, nil
}

// RunFlow walks flow from its start block. A success follows the success
// edge, a failure follows the failure edge, and any client error ends the
// run as an error. Blocks that did not run keep their state.
func (r *FlowRunner) RunFlow(ctx context.Context, flow *loader.FlowDefinition) (*FlowResult, error) {
	r.coord.StartExecution(models.ModeFullFlow, flow.Order())
	vars := copyVars(flow.Variables)

	summary := r.walk(ctx, flow, vars)
	run, err := r.coord.CompleteExecution(summary)
	if err != nil {
		return nil, err
	}
	return &FlowResult{Session: run, Variables: vars}, nil
}

func (r *FlowRunner) walk(ctx context.Context, flow *loader.FlowDefinition, vars map[string]interface{}) models.RunSummary {
	id := flow.Start
	for step := 0; ; step++ {
		if step >= r.maxSteps {
			return models.RunSummary{
				ResultType: models.ResultError,
				Message:    fmt.Sprintf("step limit of %d blocks exceeded", r.maxSteps),
			}
		}
		if err := ctx.Err(); err != nil {
			return models.RunSummary{ResultType: models.ResultError, Message: err.Error()}
		}

		block, ok := flow.Blocks[id]
		if !ok {
			return models.RunSummary{ResultType: models.ResultError, Message: fmt.Sprintf("block %s not found", id)}
		}

		state := r.executeBlock(ctx, block, vars)
		var next string
		switch state.Status {
		case models.BlockSuccess:
			next = block.Next.Success
			if next == "" {
				next = loader.TargetSuccess
			}
		case models.BlockFailure:
			next = block.Next.Failure
			if next == "" {
				return models.RunSummary{
					ResultType: models.ResultFailure,
					Message:    fmt.Sprintf("block %s failed: %s", id, state.ErrorMessage),
				}
			}
		default:
			return models.RunSummary{
				ResultType: models.ResultError,
				Message:    fmt.Sprintf("block %s: %s", id, state.ErrorMessage),
			}
		}

		switch next {
		case loader.TargetSuccess:
			return models.RunSummary{ResultType: models.ResultSuccess, Message: fmt.Sprintf("flow %s passed", flow.Metadata.Name)}
		case loader.TargetFailure:
			return models.RunSummary{ResultType: models.ResultFailure, Message: fmt.Sprintf("block %s routed to %s", id, loader.TargetFailure)}
		}
		id = next
	}
}

// executeBlock drives one block through start, remote execution and
// completion. It always leaves the block in a terminal state.
func (r *FlowRunner) executeBlock(ctx context.Context, block *loader.BlockDefinition, vars map[string]interface{}) models.BlockExecutionState {
	r.coord.StartBlockExecution(block.ID)

	params, err := r.resolver.Resolve(block.Params, vars)
	if err != nil {
		return r.complete(block.ID, blocks.Completion{IsError: true, ErrorMessage: err.Error()})
	}

	job := &models.ExecutionJob{
		Kind:     block.Kind,
		Command:  block.Command,
		Params:   params,
		HostName: r.session.HostName,
		DeviceID: r.session.DeviceID,
		TreeID:   block.TreeID,
	}

	result, err := r.executor.Execute(ctx, job)
	if err != nil {
		r.logger.Warn("Block execution failed",
			logging.F("block_id", block.ID),
			logging.F("command", block.Command),
			logging.Err(err))
		return r.complete(block.ID, blocks.Completion{IsError: true, ErrorMessage: err.Error()})
	}

	if result.Success {
		block.Outputs = blocks.ApplyOutputs(block.Outputs, result)
		if len(block.Outputs) > 0 {
			values := blocks.OutputValues(block.Outputs)
			vars[block.ID] = values
			for name, value := range values {
				vars[name] = value
			}
		}
	}
	return r.complete(block.ID, blocks.Completion{Success: result.Success, Result: result})
}

func (r *FlowRunner) complete(blockID string, c blocks.Completion) models.BlockExecutionState {
	state, err := r.coord.CompleteBlockExecution(blockID, c)
	if err != nil {
		r.logger.Warn("Block completion rejected", logging.F("block_id", blockID), logging.Err(err))
	}
	return state
}

func copyVars(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
