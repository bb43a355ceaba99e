package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semflow/workflow"
)

// defaultWorkerRole is the preamble used when a task carries no
// agentRoleDescription.
const defaultWorkerRole = `You are a worker agent executing one task of a larger workflow.

## Your Objective

Complete the task described below using only the provided context.
Produce concrete, complete output. Do not describe what you would do; do it.`

// defaultQCRole is the preamble used for verification when the task names a
// qcRole without further description.
const defaultQCRole = `You are a quality-control reviewer verifying another agent's output.

## Your Objective

Judge whether the worker output satisfies the original requirements and every
verification criterion. Be thorough but fair; only flag genuine problems.`

// deliverableInstructions tells workers how to emit files so the artifact
// collector can capture them.
const deliverableInstructions = `## Deliverables

When your output includes files, declare each one either with a directive line
immediately before a fenced code block:

FILE: path/relative/to/workspace.go
` + "```go" + `
...file content...
` + "```" + `

or with a filename attribute on the fence itself:

` + "```go filename=path/relative/to/workspace.go" + `
...file content...
` + "```" + `

Paths must be relative; absolute paths and ".." segments are rejected.`

// qcVerdictFormat is the reply schema the verification loop parses.
const qcVerdictFormat = `## Verdict Format

Respond with JSON only:

` + "```json" + `
{
  "passed": true,
  "score": 85,
  "feedback": "Overall assessment (1-2 sentences)",
  "issues": ["problem found", "..."],
  "requiredFixes": ["concrete fix to apply", "..."]
}
` + "```" + `

"passed" and "score" (0-100) are required. A task passes verification only
when passed is true and score is at least 70.`

// WorkerPrompt assembles the prompt for a worker attempt. prev carries the
// previous attempt's verification on retries and is nil on the first attempt.
func WorkerPrompt(task *workflow.Task, wctx workflow.WorkerContext, prev *workflow.QCVerification) string {
	var sb strings.Builder

	if task.AgentRoleDescription != "" {
		sb.WriteString(task.AgentRoleDescription)
	} else {
		sb.WriteString(defaultWorkerRole)
	}
	sb.WriteString("\n\n")

	sb.WriteString("## Task Context\n\n")
	writeJSONBlock(&sb, wctx)

	sb.WriteString("## Instruction\n\n")
	sb.WriteString(task.Prompt)
	sb.WriteString("\n\n")

	if prev != nil {
		sb.WriteString("## Previous Attempt Feedback\n\n")
		sb.WriteString(fmt.Sprintf("The previous attempt did not pass verification (score %d).\n\n", prev.Score))
		if prev.Feedback != "" {
			sb.WriteString("Feedback: " + prev.Feedback + "\n\n")
		}
		writeList(&sb, "Issues", prev.Issues)
		writeList(&sb, "Required fixes", prev.RequiredFixes)
	}

	sb.WriteString(deliverableInstructions)
	sb.WriteString("\n")

	return sb.String()
}

// QCPrompt assembles the verification prompt for a qc attempt.
func QCPrompt(task *workflow.Task, qctx workflow.QCContext) string {
	var sb strings.Builder

	if task.QCRole != "" {
		sb.WriteString(fmt.Sprintf("You are acting as: %s.\n\n", task.QCRole))
	}
	sb.WriteString(defaultQCRole)
	sb.WriteString("\n\n")

	sb.WriteString("## Task Context\n\n")
	writeJSONBlock(&sb, qctx.WorkerContext)

	sb.WriteString("## Original Requirements\n\n")
	sb.WriteString(qctx.OriginalRequirements)
	sb.WriteString("\n\n")

	if len(qctx.VerificationCriteria) > 0 {
		sb.WriteString("## Verification Criteria\n\n")
		for i, c := range qctx.VerificationCriteria {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Worker Output\n\n")
	sb.WriteString("```\n")
	sb.WriteString(qctx.WorkerOutput)
	sb.WriteString("\n```\n\n")

	sb.WriteString(qcVerdictFormat)
	sb.WriteString("\n")

	return sb.String()
}

func writeJSONBlock(sb *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		sb.WriteString("(error formatting context)\n\n")
		return
	}
	sb.WriteString("```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n\n")
}

func writeList(sb *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(heading + ":\n")
	for _, it := range items {
		sb.WriteString("- " + it + "\n")
	}
	sb.WriteString("\n")
}
