package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"arxivchat/internal/activities"
	"arxivchat/internal/arxiv"
	"arxivchat/internal/chat"
	"arxivchat/internal/config"
	"arxivchat/internal/ingest"
	"arxivchat/internal/insight"
	"arxivchat/internal/models"
	"arxivchat/internal/providers"
	"arxivchat/internal/util"
	"arxivchat/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type Library interface {
	UpsertPaper(ctx context.Context, p models.Paper) error
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
	ListPapers(ctx context.Context) ([]models.Paper, error)
	FilterPapers(ctx context.Context, field, term string) ([]models.Paper, error)
	DeletePaper(ctx context.Context, paperID string) error
}

type PaperSearcher interface {
	Search(ctx context.Context, query string, max int) ([]models.Paper, error)
}

type MetadataLookup interface {
	Lookup(ctx context.Context, id string) (models.Paper, error)
}

type AbstractIndex interface {
	SearchAbstracts(ctx context.Context, vec []float32, k int) ([]models.PaperMatch, error)
}

type QueryEmbedder interface {
	EmbedTexts(ctx context.Context, paperID string, req providers.EmbedRequest, preferred int) ([][]float32, providers.ProviderInfo, error)
	FindEmbedProviderIndex(name string) int
}

// Workflows is the part of the Temporal client the server uses.
type Workflows interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type Deps struct {
	Library   Library
	Search    PaperSearcher
	Lookup    MetadataLookup
	Abstracts AbstractIndex
	Embedder  QueryEmbedder
	Chat      *chat.Service
	Insights  *insight.Service
	Temporal  Workflows
	Health    func(ctx context.Context) error
	Logger    *slog.Logger
}

type Server struct {
	cfg config.Config
	Deps
	log *slog.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{cfg: cfg, Deps: d, log: d.Logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/library", s.handleLibrary)
	mux.HandleFunc("/library/", s.handleLibraryScoped)
	mux.HandleFunc("/chat/sessions", s.handleChatSessions)
	mux.HandleFunc("/chat/sessions/", s.handleChatScoped)
	mux.HandleFunc("/papers/", s.handlePapersScoped)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	limit := s.cfg.ArxivMaxResults
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("max must be a positive integer"))
			return
		}
		limit = min(n, s.cfg.ArxivMaxResults)
	}
	papers, err := s.Search.Search(r.Context(), q, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		field := strings.TrimSpace(r.URL.Query().Get("field"))
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		switch field {
		case "", "all", "title", "authors", "categories":
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("field must be title, authors, categories or all"))
			return
		}
		var (
			papers []models.Paper
			err    error
		)
		if q == "" {
			papers, err = s.Library.ListPapers(r.Context())
		} else {
			papers, err = s.Library.FilterPapers(r.Context(), field, q)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
	case http.MethodPost:
		var req struct {
			PaperID string `json:"paper_id"`
			Kind    string `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		id := arxiv.NormalizeID(req.PaperID)
		if id == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("paper_id is required"))
			return
		}
		if !validKind(req.Kind) {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("kind must be auto, html or pdf"))
			return
		}
		meta, err := s.Lookup.Lookup(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		meta.Status = models.PaperStatusPending
		if err := s.Library.UpsertPaper(r.Context(), meta); err != nil {
			s.fail(w, r, err)
			return
		}
		s.startIngest(w, r, workflows.PaperIngestInput{PaperID: id, Kind: req.Kind, PreferredEmbedProviderIndex: -1}, meta)
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleLibraryScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/library/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "semantic":
		s.handleSemantic(w, r)
		return
	case len(parts) == 1 && parts[0] == "upload":
		s.handleUpload(w, r)
		return
	case len(parts) == 1 && parts[0] == "reingest":
		s.handleReingestAll(w, r)
		return
	}

	// Old-style arXiv ids carry a slash ("hep-th/9901001").
	last := parts[len(parts)-1]
	action := ""
	if len(parts) > 1 && (last == "reingest" || last == "status") {
		action = last
		parts = parts[:len(parts)-1]
	}
	paperID := arxiv.NormalizeID(strings.Join(parts, "/"))

	switch action {
	case "reingest":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			Kind          string `json:"kind"`
			EmbedProvider string `json:"embed_provider"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
				return
			}
		}
		if !validKind(req.Kind) {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("kind must be auto, html or pdf"))
			return
		}
		paper, err := s.Library.GetPaper(r.Context(), paperID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if paper.SourceKind == ingest.KindLocal {
			writeErr(w, http.StatusConflict, fmt.Errorf("uploaded papers must be uploaded again to re-ingest"))
			return
		}
		embedIdx, err := s.embedProviderIndex(req.EmbedProvider)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		s.startIngest(w, r, workflows.PaperIngestInput{PaperID: paperID, Kind: req.Kind, PreferredEmbedProviderIndex: embedIdx}, paper)
	case "status":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		resp, err := s.Temporal.QueryWorkflow(r.Context(), workflows.IngestWorkflowID(paperID), "", workflows.QueryGetIngestStatus)
		if err != nil {
			// No live workflow; report what the library recorded.
			paper, pErr := s.Library.GetPaper(r.Context(), paperID)
			if pErr != nil {
				s.fail(w, r, pErr)
				return
			}
			writeJSON(w, http.StatusOK, workflows.IngestStatus{
				PaperID:     paper.PaperID,
				CurrentStep: "done",
				Status:      paper.Status,
				FailReason:  paper.FailReason,
				SourceKind:  paper.SourceKind,
				Generation:  paper.ChunkGeneration,
				ChunkCount:  paper.ChunkCount,
			})
			return
		}
		var status workflows.IngestStatus
		if err := resp.Get(&status); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	default:
		switch r.Method {
		case http.MethodGet:
			paper, err := s.Library.GetPaper(r.Context(), paperID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, paper)
		case http.MethodDelete:
			if err := s.Library.DeletePaper(r.Context(), paperID); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
	}
}

func (s *Server) handleSemantic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = min(n, 50)
		}
	}
	vecs, _, err := s.Embedder.EmbedTexts(r.Context(), "", providers.EmbedRequest{Operation: providers.OpEmbedQuery, Inputs: []string{q}}, -1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	matches, err := s.Abstracts.SearchAbstracts(r.Context(), vecs[0], k)
	if err != nil {
		s.fail(w, r, fmt.Errorf("semantic search: %w: %v", util.ErrExternalUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	_, fh, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("only pdf uploads are supported"))
		return
	}
	dir := filepath.Join(s.cfg.DataRoot, "uploads")
	if err := util.EnsureDir(dir); err != nil {
		s.fail(w, r, err)
		return
	}
	paperID, path, err := saveUploadedFile(dir, fh)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	paper := models.Paper{
		PaperID:    paperID,
		Title:      strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename)),
		SourceKind: ingest.KindLocal,
		Status:     models.PaperStatusPending,
	}
	if err := s.Library.UpsertPaper(r.Context(), paper); err != nil {
		s.fail(w, r, err)
		return
	}
	s.startIngest(w, r, workflows.PaperIngestInput{PaperID: paperID, Kind: ingest.KindLocal, Path: path, PreferredEmbedProviderIndex: -1}, paper)
}

func (s *Server) handleReingestAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Mode          string `json:"mode"`
		EmbedProvider string `json:"embed_provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	mode := strings.ToUpper(strings.TrimSpace(req.Mode))
	if mode != workflows.ModeRetryFailedPapers && mode != workflows.ModeReingestAll {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("mode must be %s or %s", workflows.ModeRetryFailedPapers, workflows.ModeReingestAll))
		return
	}
	embedIdx, err := s.embedProviderIndex(req.EmbedProvider)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	we, err := s.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "reingest-" + strings.ToLower(mode) + "-" + strconv.FormatInt(time.Now().Unix(), 10),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.ReingestWorkflow, workflows.ReingestInput{
		Mode:                        mode,
		MaxConcurrentChildren:       s.cfg.ReingestMaxChildren,
		PreferredEmbedProviderIndex: embedIdx,
	})
	if err != nil {
		s.failStart(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

// embedProviderIndex resolves an optional embedding provider name; "" means
// the default failover order.
func (s *Server) embedProviderIndex(name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return -1, nil
	}
	idx := s.Embedder.FindEmbedProviderIndex(name)
	if idx < 0 {
		return -1, fmt.Errorf("embed_provider must be a configured embedding provider")
	}
	return idx, nil
}

func (s *Server) startIngest(w http.ResponseWriter, r *http.Request, in workflows.PaperIngestInput, paper models.Paper) {
	we, err := s.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       workflows.IngestWorkflowID(in.PaperID),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.PaperIngestWorkflow, in)
	if err != nil {
		s.failStart(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"paper": paper, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleChatSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		UserID  string `json:"user_id"`
		PaperID string `json:"paper_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	paperID := arxiv.NormalizeID(req.PaperID)
	if req.UserID == "" || paperID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("user_id and paper_id are required"))
		return
	}
	sess, err := s.Chat.Open(r.Context(), req.UserID, paperID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleChatScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/sessions/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" || len(parts) > 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	sessionID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		sess, err := s.Chat.Get(r.Context(), sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		turns, err := s.Chat.History(r.Context(), sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "history": turns})
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.Chat.Close(r.Context(), sessionID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case sub == "messages" && r.Method == http.MethodPost:
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		ans, err := s.Chat.Ask(r.Context(), sessionID, req.Query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":   sessionID,
			"answer":       ans.Text,
			"citations":    toCitations(ans.Citations, req.Query),
			"degraded":     ans.Degraded,
			"history_used": ans.HistoryUsed,
		})
	case sub == "followups" && r.Method == http.MethodGet:
		qs, err := s.Chat.SuggestFollowUps(r.Context(), sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
	case sub == "history" && r.Method == http.MethodDelete:
		if err := s.Chat.ClearHistory(r.Context(), sessionID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case sub == "" || sub == "messages" || sub == "followups" || sub == "history":
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handlePapersScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/papers/"), "/"), "/")
	if len(parts) < 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	statusOnly := false
	if parts[len(parts)-1] == "status" {
		statusOnly = true
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 2 || parts[len(parts)-1] != "insights" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	paperID := arxiv.NormalizeID(strings.Join(parts[:len(parts)-1], "/"))

	switch {
	case statusOnly && r.Method == http.MethodGet:
		resp, err := s.Temporal.QueryWorkflow(r.Context(), workflows.InsightWorkflowID(paperID), "", workflows.QueryGetInsightStatus)
		if err != nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("no insight run: %w", util.ErrNotFound))
			return
		}
		var status workflows.InsightStatus
		if err := resp.Get(&status); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case !statusOnly && r.Method == http.MethodGet:
		ins, err := s.Insights.Get(r.Context(), paperID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, insightBody(ins, ins.Err()))
	case !statusOnly && r.Method == http.MethodPost:
		if _, err := s.Library.GetPaper(r.Context(), paperID); err != nil {
			s.fail(w, r, err)
			return
		}
		we, err := s.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       workflows.InsightWorkflowID(paperID),
			TaskQueue:                                s.cfg.TemporalTaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.InsightWorkflow, workflows.InsightInput{PaperID: paperID})
		if err != nil {
			s.failStart(w, r, err)
			return
		}
		if r.URL.Query().Get("wait") != "true" {
			writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
			return
		}
		var out activities.GenerateInsightOutput
		if err := we.Get(r.Context(), &out); err != nil {
			s.fail(w, r, fmt.Errorf("generate insights: %w: %v", util.ErrInsightFailed, err))
			return
		}
		var warn error
		if out.Warning != "" {
			warn = errors.New(out.Warning)
		}
		writeJSON(w, http.StatusOK, insightBody(out.Insight, warn))
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func insightBody(ins models.Insight, warn error) map[string]any {
	body := map[string]any{"insight": ins}
	if warn != nil {
		body["warning"] = warn.Error()
	}
	return body
}

type citation struct {
	RefID   string  `json:"ref_id"`
	ChunkID string  `json:"chunk_id"`
	Section string  `json:"section,omitempty"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// toCitations numbers the cited chunks and picks the sentences of each that
// best match query.
func toCitations(chunks []models.ChunkResult, query string) []citation {
	out := make([]citation, 0, len(chunks))
	for i, c := range chunks {
		snippet := util.DisplayEvidenceSnippet(c.ChunkText, query, 420)
		if snippet == "" {
			snippet = c.Snippet
		}
		out = append(out, citation{RefID: fmt.Sprintf("C%d", i+1), ChunkID: c.ChunkID, Section: c.Section, Snippet: snippet, Score: c.Score})
	}
	return out
}

func validKind(kind string) bool {
	switch kind {
	case "", ingest.KindAuto, ingest.KindHTML, ingest.KindPDF:
		return true
	}
	return false
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (paperID, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	sum, err := util.SHA256HexFromReader(io.TeeReader(src, tmp))
	if err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}

	paperID = "local-" + sum[:16]
	finalPath := filepath.Join(dstDir, paperID+".pdf")
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}
	return paperID, finalPath, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes err with the status its kind maps to.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	}
	writeErr(w, code, err)
}

func (s *Server) failStart(w http.ResponseWriter, r *http.Request, err error) {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		writeErr(w, http.StatusConflict, fmt.Errorf("already running: %w", err))
		return
	}
	s.fail(w, r, fmt.Errorf("start workflow: %w: %v", util.ErrExternalUnavailable, err))
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":        apiErr.Code,
			"kind":        apiErr.Kind,
			"message":     apiErr.Message,
			"consistency": apiErr.Consistency,
		},
	})
}
