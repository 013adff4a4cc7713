package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
)

// Result is the reply to a text command. Success is false when the command was
// malformed, failed, or its proposal was rejected.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HelpText lists the commands understood by HandleCommand.
const HelpText = `Available commands:
  add_node <id> [cpu] [memory] [storage] [bandwidth] - Register a new node
  request_resource <id> <resource> <amount>          - Request resource allocation
  release_resource <id> <resource> <amount>          - Release allocated resource
  view_chain                                         - Display blockchain
  validate_chain                                     - Validate blockchain integrity
  print_audit                                        - Show audit log
  status                                             - Show system status
  history <id>                                       - Show a node's recorded transactions
  save                                               - Write the state to the store now
  help                                               - Show this help message`

type commandFunc func(p *Pipeline, ctx context.Context, args []string) Result

var commands = map[string]commandFunc{
	"add_node":         (*Pipeline).cmdAddNode,
	"request_resource": (*Pipeline).cmdRequest,
	"release_resource": (*Pipeline).cmdRelease,
	"view_chain":       (*Pipeline).cmdViewChain,
	"validate_chain":   (*Pipeline).cmdValidateChain,
	"print_audit":      (*Pipeline).cmdPrintAudit,
	"status":           (*Pipeline).cmdStatus,
	"history":          (*Pipeline).cmdHistory,
	"save":             (*Pipeline).cmdSave,
	"help":             (*Pipeline).cmdHelp,
}

// HandleCommand parses and runs one command line.
func (p *Pipeline) HandleCommand(ctx context.Context, line string) Result {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Result{Message: "Empty command"}
	}
	name := strings.ToLower(parts[0])
	cmd, ok := commands[name]
	if !ok {
		return Result{Message: fmt.Sprintf("Unknown command: %s. Type 'help' for available commands.", name)}
	}
	return cmd(p, ctx, parts[1:])
}

func (p *Pipeline) cmdAddNode(_ context.Context, args []string) Result {
	const usage = "Usage: add_node <node_id> [cpu] [memory] [storage] [bandwidth]"
	if len(args) < 1 || len(args) > 1+len(allocation.DefaultKinds) {
		return Result{Message: usage}
	}
	quota := make(map[allocation.ResourceKind]float64, len(allocation.DefaultKinds))
	for i, kind := range allocation.DefaultKinds {
		quota[kind] = 0
		if i+1 < len(args) {
			v, err := strconv.ParseFloat(args[i+1], 64)
			if err != nil {
				return Result{Message: fmt.Sprintf("invalid %s quota %q. %s", kind, args[i+1], usage)}
			}
			quota[kind] = v
		}
	}
	token, err := p.RegisterNode(args[0], quota)
	if err != nil {
		return Result{Message: err.Error()}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Node %s registered", args[0]),
		Data:    map[string]any{"token": token, "quotas": quota},
	}
}

func (p *Pipeline) cmdRequest(ctx context.Context, args []string) Result {
	return p.resourceCommand(ctx, allocation.OpAllocate, args)
}

func (p *Pipeline) cmdRelease(ctx context.Context, args []string) Result {
	return p.resourceCommand(ctx, allocation.OpRelease, args)
}

func (p *Pipeline) resourceCommand(ctx context.Context, op allocation.OpType, args []string) Result {
	name := ActionRequest
	if op == allocation.OpRelease {
		name = ActionRelease
	}
	if len(args) != 3 {
		return Result{Message: fmt.Sprintf("Usage: %s <node_id> <resource> <amount>", name)}
	}
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return Result{Message: fmt.Sprintf("invalid amount %q", args[2])}
	}
	id, kind := args[0], allocation.ParseKind(args[1])

	var out Outcome
	if op == allocation.OpAllocate {
		out, err = p.RequestResource(ctx, id, kind, amount)
	} else {
		out, err = p.ReleaseResource(ctx, id, kind, amount)
	}
	return resourceResult(p, id, out, err)
}

func resourceResult(p *Pipeline, id string, out Outcome, err error) Result {
	data := map[string]any{}
	if node, ok := p.Node(id); ok {
		data["node_status"] = node
	}
	if out.Decision.State != "" {
		data["decision"] = out.Decision
	}

	var rejected *consensus.RejectedError
	switch {
	case err == nil:
		data["block_index"] = out.Block.Index
		return Result{
			Success: true,
			Message: fmt.Sprintf("Accepted into block %d (%d/%d votes)", out.Block.Index, out.Decision.VotesFor, out.Decision.TotalNodes),
			Data:    data,
		}
	case errors.As(err, &rejected):
		return Result{Message: "Rejected: " + rejected.Decision.Summary(), Data: data}
	case errors.Is(err, ledger.ErrSealCancelled):
		return Result{Message: "Sealing did not finish in time: " + err.Error(), Data: data}
	default:
		return Result{Message: err.Error(), Data: data}
	}
}

func (p *Pipeline) cmdViewChain(_ context.Context, _ []string) Result {
	chain := p.ViewChain()
	return Result{
		Success: true,
		Message: fmt.Sprintf("Blockchain retrieved (%d blocks)", len(chain)),
		Data:    map[string]any{"chain": chain},
	}
}

func (p *Pipeline) cmdValidateChain(_ context.Context, _ []string) Result {
	err := p.ValidateChain()
	if err == nil {
		return Result{Success: true, Message: "Chain is valid", Data: map[string]any{"valid": true}}
	}
	data := map[string]any{"valid": false}
	var ierr *ledger.IntegrityError
	if errors.As(err, &ierr) {
		data["failed_index"] = ierr.Index
		data["violations"] = ierr.Violations
	}
	return Result{Success: true, Message: err.Error(), Data: data}
}

func (p *Pipeline) cmdPrintAudit(_ context.Context, _ []string) Result {
	events := p.AuditEvents()
	return Result{
		Success: true,
		Message: fmt.Sprintf("Audit log retrieved (%d events)", len(events)),
		Data:    map[string]any{"events": events},
	}
}

func (p *Pipeline) cmdStatus(_ context.Context, _ []string) Result {
	return Result{Success: true, Message: "System status", Data: p.Status()}
}

func (p *Pipeline) cmdHistory(_ context.Context, args []string) Result {
	if len(args) != 1 {
		return Result{Message: "Usage: history <node_id>"}
	}
	records, err := p.History(args[0])
	if err != nil {
		return Result{Message: err.Error()}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("%d transactions recorded for %s", len(records), args[0]),
		Data:    map[string]any{"records": records},
	}
}

func (p *Pipeline) cmdSave(_ context.Context, _ []string) Result {
	receipt, err := p.Save()
	if err != nil {
		return Result{Message: "Save failed: " + err.Error()}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("State saved (digest %s)", receipt.Digest),
		Data:    map[string]any{"receipt": receipt},
	}
}

func (p *Pipeline) cmdHelp(_ context.Context, _ []string) Result {
	return Result{Success: true, Message: HelpText}
}
