package intent

import "github.com/jmherbst/voxdesk/pkg/live"

// Schema returns the tool declarations for all supported intents, in the
// JSON-schema shape the live session forwards to the model.
func Schema() []live.ToolDefinition {
	return []live.ToolDefinition{
		{
			Name:        IntentCreateProject,
			Description: "Create a new project on the dashboard.",
			Parameters: objectSchema(map[string]any{
				"name":     stringProp("Project name"),
				"client":   stringProp("Client the project is for"),
				"deadline": stringProp("Deadline date, ISO 8601 (YYYY-MM-DD)"),
				"category": stringProp("Project category"),
			}, "name", "client", "deadline", "category"),
		},
		{
			Name:        IntentCreateSkill,
			Description: "Add a skill the user wants to learn or track.",
			Parameters: objectSchema(map[string]any{
				"name":     stringProp("Skill name"),
				"deadline": stringProp("Target date, ISO 8601 (YYYY-MM-DD)"),
				"category": stringProp("Skill category"),
				"status": enumProp("Current progress",
					"not started", "in progress", "completed"),
			}, "name", "deadline", "category", "status"),
		},
		{
			Name:        IntentCreateTransaction,
			Description: "Record a financial transaction.",
			Parameters: objectSchema(map[string]any{
				"description": stringProp("What the transaction was for"),
				"amount": map[string]any{
					"type":        "number",
					"description": "Amount of money, positive",
				},
				"date": stringProp("Transaction date, ISO 8601 (YYYY-MM-DD)"),
				"type": enumProp("Whether money came in or went out",
					"income", "expense"),
			}, "description", "amount", "date", "type"),
		},
		{
			Name:        IntentCreateTask,
			Description: "Add a task to an existing project. The project is matched by name.",
			Parameters: objectSchema(map[string]any{
				"text":         stringProp("Task description"),
				"project_name": stringProp("Name of the project the task belongs to, partial names allowed"),
			}, "text", "project_name"),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
