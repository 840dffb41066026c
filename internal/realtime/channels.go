package realtime

import "github.com/google/uuid"

// WorkflowChannel names the channel carrying events for a single workflow.
func WorkflowChannel(workflowID uuid.UUID) string {
	return "workflow:" + workflowID.String()
}
