package workflows

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arxivchat/internal/activities"
	"arxivchat/internal/ingest"
	"arxivchat/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetIngestStatus     = "GetIngestStatus"
	QueryGetReingestProgress = "GetReingestProgress"
	QueryGetInsightStatus    = "GetInsightStatus"
)

const (
	ModeRetryFailedPapers = "RETRY_FAILED_PAPERS"
	ModeReingestAll       = "REINGEST_ALL"

	defaultMaxReingestChildren = 3
)

// IngestWorkflowID is the workflow id used for a paper's ingestion. One
// ingestion per paper runs at a time.
func IngestWorkflowID(paperID string) string {
	return "ingest-" + sanitizeID(paperID)
}

func InsightWorkflowID(paperID string) string {
	return "insight-" + sanitizeID(paperID)
}

// PaperIngestWorkflow fetches, chunks, embeds and commits one paper. Step
// failures are recorded on the paper and reported through the result status
// rather than failing the workflow.
func PaperIngestWorkflow(ctx workflow.Context, input PaperIngestInput) (string, error) {
	status := IngestStatus{
		PaperID:     input.PaperID,
		CurrentStep: "init",
		Status:      models.PaperStatusProcessing,
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetIngestStatus, func() (IngestStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	begin := func(step string) {
		status.CurrentStep = step
		status.Steps[step] = "processing"
	}
	fail := func(err error) (string, error) {
		status.Steps[status.CurrentStep] = "failed"
		status.FailReason = failReason(err)
		var out activities.FailPaperOutput
		if ferr := workflow.ExecuteActivity(ctx, "FailPaperActivity", activities.FailPaperInput{PaperID: input.PaperID, Reason: status.FailReason}).Get(ctx, &out); ferr != nil {
			return "", ferr
		}
		status.Status = out.Status
		workflow.GetLogger(ctx).Warn("paper ingestion failed", "paper_id", input.PaperID, "step", status.CurrentStep, "status", out.Status, "reason", status.FailReason)
		return models.PaperStatusFailed, nil
	}

	begin("prepare")
	var prep activities.PreparePaperOutput
	if err := workflow.ExecuteActivity(ctx, "PreparePaperActivity", activities.PreparePaperInput{PaperID: input.PaperID, Kind: input.Kind, Path: input.Path}).Get(ctx, &prep); err != nil {
		return fail(err)
	}
	status.Steps[status.CurrentStep] = "done"

	begin("fetch_text")
	var text activities.FetchTextOutput
	if err := workflow.ExecuteActivity(ctx, "FetchTextActivity", activities.FetchTextInput{Paper: prep.Paper, Kind: input.Kind, Path: input.Path}).Get(ctx, &text); err != nil {
		return fail(err)
	}
	status.SourceKind = text.Kind
	status.Steps[status.CurrentStep] = "done"

	begin("chunk_text")
	var chunks activities.ChunkTextOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkTextActivity", activities.ChunkTextInput{PaperID: input.PaperID, Text: text.Text}).Get(ctx, &chunks); err != nil {
		return fail(err)
	}
	status.Steps[status.CurrentStep] = "done"

	begin("index_chunks")
	var indexed activities.IndexChunksOutput
	if err := workflow.ExecuteActivity(ctx, "IndexChunksActivity", activities.IndexChunksInput{
		PaperID:                     input.PaperID,
		Kind:                        text.Kind,
		Chunks:                      chunks.Chunks,
		PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
	}).Get(ctx, &indexed); err != nil {
		return fail(err)
	}
	status.Generation = indexed.Generation
	status.ChunkCount = indexed.ChunkCount
	status.Providers = append(status.Providers, indexed.ProviderName)
	status.Steps[status.CurrentStep] = "done"

	// The new generation is already served; finalize only adds the abstract
	// embedding and on-disk artifacts.
	begin("finalize")
	if err := workflow.ExecuteActivity(ctx, "FinalizePaperActivity", activities.FinalizePaperInput{PaperID: input.PaperID, Text: text.Text, Chunks: chunks.Chunks}).Get(ctx, nil); err != nil {
		status.Steps[status.CurrentStep] = "failed"
		workflow.GetLogger(ctx).Warn("finalize failed", "paper_id", input.PaperID, "error", err)
	} else {
		status.Steps[status.CurrentStep] = "done"
	}
	status.CurrentStep = "done"
	status.Status = models.PaperStatusReady
	return status.Status, nil
}

// ReingestWorkflow re-runs ingestion for failed papers or the whole library
// as child workflows, at most MaxConcurrentChildren at a time.
func ReingestWorkflow(ctx workflow.Context, input ReingestInput) (string, error) {
	mode := strings.ToUpper(strings.TrimSpace(input.Mode))
	progress := ReingestProgress{
		Mode:          mode,
		PerPaper:      map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetReingestProgress, func() (ReingestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	var list activities.ListPapersInput
	switch mode {
	case ModeRetryFailedPapers:
		list.FailedOnly = true
	case ModeReingestAll:
	default:
		return "", temporal.NewNonRetryableApplicationError(fmt.Sprintf("unsupported reingest mode: %s", input.Mode), "InvalidMode", nil)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	runID := workflow.GetInfo(ctx).WorkflowExecution.RunID

	var listed activities.ListPapersOutput
	if err := workflow.ExecuteActivity(ctx, "ListPapersActivity", list).Get(ctx, &listed); err != nil {
		return "", err
	}
	ids := make([]string, 0, len(listed.Papers))
	for _, p := range listed.Papers {
		if p.SourceKind == ingest.KindLocal {
			progress.Skipped++
			progress.PerPaper[p.PaperID] = "skipped_local"
			continue
		}
		ids = append(ids, p.PaperID)
	}
	progress.Total = len(ids)

	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = defaultMaxReingestChildren
	}
	for i := 0; i < len(ids); i += maxChildren {
		end := min(i+maxChildren, len(ids))
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		for _, id := range ids[i:end] {
			progress.PerPaper[id] = models.PaperStatusProcessing
			workflowID := "reingest-" + sanitizeID(id) + "-" + shortRunID(runID)
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx, PaperIngestWorkflow, PaperIngestInput{
				PaperID:                     id,
				Kind:                        input.Kind,
				PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
			}))
			progress.ChildWorkflow[id] = workflowID
		}
		for j, f := range futures {
			id := ids[i+j]
			var childStatus string
			if err := f.Get(ctx, &childStatus); err != nil {
				progress.Failed++
				progress.PerPaper[id] = models.PaperStatusFailed
				continue
			}
			if childStatus == models.PaperStatusFailed {
				progress.Failed++
			}
			progress.Done++
			progress.PerPaper[id] = childStatus
		}
	}

	var out activities.WriteRunManifestOutput
	if err := workflow.ExecuteActivity(ctx, "WriteRunManifestActivity", activities.WriteRunManifestInput{
		RunID: runID,
		Manifest: map[string]any{
			"run_id":           runID,
			"mode":             mode,
			"total":            progress.Total,
			"done":             progress.Done,
			"failed":           progress.Failed,
			"skipped":          progress.Skipped,
			"per_paper_status": progress.PerPaper,
			"finished_at":      workflow.Now(ctx),
		},
	}).Get(ctx, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// InsightWorkflow generates and stores a new insight version for a paper.
func InsightWorkflow(ctx workflow.Context, input InsightInput) (activities.GenerateInsightOutput, error) {
	status := InsightStatus{PaperID: input.PaperID, Status: "generating"}
	if err := workflow.SetQueryHandler(ctx, QueryGetInsightStatus, func() (InsightStatus, error) {
		return status, nil
	}); err != nil {
		return activities.GenerateInsightOutput{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out activities.GenerateInsightOutput
	if err := workflow.ExecuteActivity(ctx, "GenerateInsightActivity", activities.GenerateInsightInput{PaperID: input.PaperID}).Get(ctx, &out); err != nil {
		status.Status = "failed"
		status.Error = failReason(err)
		return activities.GenerateInsightOutput{}, err
	}
	status.Status = "done"
	status.Version = out.Insight.Version
	status.Warning = out.Warning
	if out.Warning != "" {
		status.Status = "partial"
	}
	return out, nil
}

// failReason unwraps the activity error chain to the application message.
func failReason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}

func shortRunID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
