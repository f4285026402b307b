// Package agent defines the contract the orchestrator (C10) expects from
// every downstream worker agent (parsing, sales_analysis,
// technical_validation, pricing_calculation, response_generation) and
// provides stub implementations of each for local development and tests.
package agent

import (
	"context"

	"github.com/industrial-rfp/workflow-core/comm"
	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/message"
)

// Handler processes a single stage request payload and returns a response
// payload shaped per spec.md §6's per-stage contract table. It must set
// "status" to "success" or "failed" in the returned map; on "failed" it
// should also set "error" to a human-readable message.
type Handler func(ctx context.Context, payload map[string]interface{}) map[string]interface{}

// Register wires a stage handler into the Communication Manager: it
// installs fn as agentID's TypeRequest handler, which invokes fn on each
// request and sends the result back via SendResponse. It does not
// subscribe agentID to the broker; requests reach the handler only once
// agentID has been registered with mgr.RegisterAgent.
func Register(mgr *comm.Manager, agentID string, fn Handler, logger core.Logger) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	mgr.RegisterHandler(agentID, message.TypeRequest, func(ctx context.Context, msg *message.Message) {
		response := fn(ctx, msg.Payload)
		if err := mgr.SendResponse(ctx, msg, agentID, response); err != nil {
			logger.Warn("agent failed to send response", map[string]interface{}{
				"agent_id": agentID, "request_id": msg.ID, "error": err.Error(),
			})
		}
	})
}

func success(fields map[string]interface{}) map[string]interface{} {
	fields["status"] = "success"
	return fields
}

func failure(reason string) map[string]interface{} {
	return map[string]interface{}{"status": "failed", "error": reason}
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
