package tools

import (
	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// Tool names as declared to the conversational service.
const (
	ToolSave         = "save_job_application"
	ToolList         = "list_job_applications"
	ToolUpdateStatus = "update_job_status"
	ToolDelete       = "delete_job_application"
)

// Names lists the declared tools in declaration order.
var Names = []string{ToolSave, ToolList, ToolUpdateStatus, ToolDelete}

// Definitions returns the JSON-schema declarations of every tool. The slice
// is freshly built on each call; callers may modify it.
func Definitions() []types.ToolDefinition {
	statusProp := func(desc string) map[string]any {
		return map[string]any{
			"type":        "string",
			"description": desc,
			"enum":        job.StatusNames(),
		}
	}
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	return []types.ToolDefinition{
		{
			Name: ToolSave,
			Description: "Save a job application to the user's tracker. Pass id only to " +
				"update an existing application; omit it to add a new one.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          str("ID of an existing application to update."),
					"company":     str("Company name."),
					"role":        str("Job title or role."),
					"source":      str("Where the job was found, e.g. LinkedIn or a referral."),
					"dateApplied": str("Date applied as YYYY-MM-DD."),
					"status":      statusProp("Current stage of the application."),
					"notes":       str("Free-form notes."),
				},
				"required": []string{"company", "role"},
			},
		},
		{
			Name:        ToolList,
			Description: "List every job application in the user's tracker.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolUpdateStatus,
			Description: "Change the status of the application whose company name matches.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"company": str("Company name or part of it."),
					"status":  statusProp("New status."),
				},
				"required": []string{"company", "status"},
			},
		},
		{
			Name:        ToolDelete,
			Description: "Delete an application from the tracker by its ID.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": str("ID of the application to delete."),
				},
				"required": []string{"id"},
			},
		},
	}
}
