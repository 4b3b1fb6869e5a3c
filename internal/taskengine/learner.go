package taskengine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/store"
)

// LearningExtraction is the structured output a Learner call produces,
// generalized from internal/brain/keywords.go's KeywordsResponse shape —
// same "typed list with a weight/category per item" structure, repurposed
// from issue keywords to durable task lessons.
type LearningExtraction struct {
	Lessons []LessonItem `json:"lessons" jsonschema_description:"Durable lessons worth remembering for future tasks in this workspace"`
}

// LessonItem is one extracted lesson.
type LessonItem struct {
	Content    string  `json:"content" jsonschema_description:"The lesson, stated as an actionable rule"`
	Type       string  `json:"type" jsonschema:"enum=project_standards,enum=codebase_standards,enum=domain_knowledge"`
	Confidence float64 `json:"confidence" jsonschema_description:"0.0-1.0 confidence this generalizes beyond this one task"`
}

var learningExtractionSchema = llm.GenerateSchemaFrom(LearningExtraction{})

// minLessonConfidence discards extracted lessons too specific to this one
// task to be worth persisting as workspace memory.
const minLessonConfidence = 0.6

// Learner is the optional pre-task enrichment / post-task extraction
// collaborator (spec §4.K). Grounded on internal/brain/keywords.go's
// LLM-driven typed-list extraction and internal/brain/context_builder.go's
// context-block assembly, repurposed from issue keywords/learnings to task
// entity/lesson extraction. A Learner failure is always non-fatal to the
// task it is attached to.
type Learner struct {
	client    llm.AgentClient
	learnings store.LearningStore
}

// NewLearner wraps an AgentClient and LearningStore. A nil client disables
// extraction (ExtractAndSave becomes a no-op) while Enrich still reads the
// store; a nil LearningStore makes both no-ops, making the Learner safe to
// omit from an Executor wiring that doesn't want memory hooks.
func NewLearner(client llm.AgentClient, learnings store.LearningStore) *Learner {
	return &Learner{client: client, learnings: learnings}
}

// Enrich fetches recent workspace learnings and renders them as a context
// block to prepend to a task's planning/reasoning messages. Failure here
// must never block task execution — it returns "" on any error.
func (l *Learner) Enrich(ctx context.Context, workspaceID int64) string {
	if l.learnings == nil {
		return ""
	}

	entries, err := l.learnings.ListLearnings(ctx, workspaceID, 20)
	if err != nil {
		slog.WarnContext(ctx, "learner enrichment failed, proceeding without memory", "workspace_id", workspaceID, "error", err)
		return ""
	}
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Known workspace standards and prior lessons:\n")
	for _, e := range entries {
		sb.WriteString("- [")
		sb.WriteString(e.Type)
		sb.WriteString("] ")
		sb.WriteString(e.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ExtractAndSave runs a single structured-output LLM call over a completed
// task's goal, plan, and evidence chain, persisting any lesson whose
// confidence clears minLessonConfidence. Errors are logged and swallowed —
// this runs after the task has already reached a terminal state, so nothing
// should roll it back.
func (l *Learner) ExtractAndSave(ctx context.Context, task *model.Task, decisions []model.DecisionRecord) {
	if l.client == nil || l.learnings == nil {
		return
	}

	prompt := buildExtractionPrompt(task, decisions)
	resp, err := l.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Extract durable lessons from this completed task that would help with future similar tasks. Call submit_lessons exactly once."},
			{Role: "user", Content: prompt},
		},
		Tools: []llm.Tool{{
			Name:        "submit_lessons",
			Description: "Submit extracted lessons.",
			Parameters:  learningExtractionSchema,
		}},
		MaxTokens: 2048,
	})
	if err != nil {
		slog.WarnContext(ctx, "learning extraction call failed, skipping", "task_id", task.ID, "error", err)
		return
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != "submit_lessons" {
			continue
		}
		extraction, err := llm.ParseToolArguments[LearningExtraction](tc.Arguments)
		if err != nil {
			slog.WarnContext(ctx, "parsing submit_lessons arguments failed", "task_id", task.ID, "error", err)
			return
		}
		l.saveLessons(ctx, task, extraction.Lessons)
		return
	}
}

func (l *Learner) saveLessons(ctx context.Context, task *model.Task, lessons []LessonItem) {
	now := time.Now()
	for _, lesson := range lessons {
		if lesson.Confidence < minLessonConfidence {
			continue
		}
		learning := &model.Learning{
			WorkspaceID:          task.WorkspaceID,
			RuleUpdatedByIssueID: &task.ID,
			Type:                 lesson.Type,
			Content:              lesson.Content,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := l.learnings.SaveLearning(ctx, learning); err != nil {
			slog.WarnContext(ctx, "saving extracted learning failed", "task_id", task.ID, "error", err)
		}
	}
}

func buildExtractionPrompt(task *model.Task, decisions []model.DecisionRecord) string {
	var sb strings.Builder
	sb.WriteString("Goal: ")
	sb.WriteString(task.Goal)
	sb.WriteString("\n\nKey decisions made:\n")
	for _, d := range decisions {
		sb.WriteString("- ")
		sb.WriteString(string(d.DecisionType))
		sb.WriteString(": ")
		sb.WriteString(d.Description)
		if d.Reasoning != "" {
			sb.WriteString(" (")
			sb.WriteString(d.Reasoning)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
