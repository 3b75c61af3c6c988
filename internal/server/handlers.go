package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/application"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
)

// InferenceRequest runs the runner model on one query.
type InferenceRequest struct {
	Model           string                `json:"model" binding:"required"`
	TaskDescription string                `json:"taskDescription" binding:"required"`
	PromptTemplate  string                `json:"promptTemplate" binding:"required"`
	Query           string                `json:"query" binding:"required"`
	Settings        *domain.ModelSettings `json:"settings,omitempty"`
}

// InferenceResponse carries the runner output.
type InferenceResponse struct {
	Output string `json:"output"`
}

// JuryRowPayload is the labeled row a jury call evaluates against.
type JuryRowPayload struct {
	Query          string `json:"query" binding:"required"`
	ExpectedOutput string `json:"expectedOutput" binding:"required"`
	SoftNegatives  string `json:"softNegatives,omitempty"`
	HardNegatives  string `json:"hardNegatives,omitempty"`
}

// JuryRequest scores one output with one jury model.
type JuryRequest struct {
	JuryModel       string                `json:"juryModel" binding:"required"`
	JurySettings    *domain.ModelSettings `json:"jurySettings,omitempty"`
	TaskDescription string                `json:"taskDescription" binding:"required"`
	Row             JuryRowPayload        `json:"row" binding:"required"`
	ActualOutput    string                `json:"actualOutput" binding:"required"`
}

// JuryResponse is one verdict.
type JuryResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// RefineRequest rewrites a prompt from failure critiques.
type RefineRequest struct {
	TaskDescription string `json:"taskDescription" binding:"required"`
	CurrentPrompt   string `json:"currentPrompt" binding:"required"`
	Failures        string `json:"failures" binding:"required"`
}

// RefineResponse is the refiner's rewrite.
type RefineResponse struct {
	Explanation    string `json:"explanation"`
	RefinedPrompt  string `json:"refinedPrompt"`
	DeltaReasoning string `json:"deltaReasoning"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleOptimize validates the request before any byte is streamed, then
// streams the run. Failures after that point arrive as the "error" event.
func (s *Server) handleOptimize(c *gin.Context) {
	var req optimizer.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, err)
		return
	}
	if _, err := req.Options(); err != nil {
		s.writeError(c, err)
		return
	}

	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		s.writeError(c, err)
		return
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	stop := sse.StartHeartbeat(ctx, s.cfg.Heartbeat)
	defer stop()

	summary, err := s.cfg.Optimizer.Run(ctx, &req, sse)
	if err != nil {
		s.logger.Warn("optimization stream ended with error", "error", err)
		return
	}
	s.logger.Info("optimization stream complete",
		"experiment_id", summary.ExperimentID, "iterations", summary.TotalIterations)
}

func (s *Server) handleInference(c *gin.Context) {
	var req InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, err)
		return
	}

	runner := domain.RunnerConfig{Model: req.Model, Settings: req.Settings}
	output, _, err := s.inference.Infer(c.Request.Context(), runner, req.TaskDescription, req.PromptTemplate,
		domain.DatasetRow{Query: req.Query})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, InferenceResponse{Output: output})
}

func (s *Server) handleJury(c *gin.Context) {
	var req JuryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, err)
		return
	}

	member := domain.JuryMemberConfig{Name: req.JuryModel, Model: req.JuryModel, Settings: req.JurySettings}
	row := domain.DatasetRow{
		Query:          req.Row.Query,
		ExpectedOutput: req.Row.ExpectedOutput,
		SoftNegatives:  req.Row.SoftNegatives,
		HardNegatives:  req.Row.HardNegatives,
	}
	verdicts, err := s.jury.Evaluate(c.Request.Context(), []domain.JuryMemberConfig{member},
		req.TaskDescription, row, req.ActualOutput)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JuryResponse{Score: verdicts[0].Score, Reasoning: verdicts[0].Reasoning})
}

func (s *Server) handleRefine(c *gin.Context) {
	var req RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, err)
		return
	}

	ref, err := s.refiner.Refine(c.Request.Context(), req.TaskDescription, req.CurrentPrompt, req.Failures, nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RefineResponse{
		Explanation:    ref.Explanation,
		RefinedPrompt:  ref.RefinedPrompt,
		DeltaReasoning: ref.DeltaReasoning,
	})
}

func (s *Server) handleUploadDataset(c *gin.Context) {
	var req application.DatasetUpload
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, err)
		return
	}

	res, err := s.cfg.Datasets.Upload(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDatasetStats(c *gin.Context) {
	stats, err := s.cfg.Datasets.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDatasetSplit(c *gin.Context) {
	rows, err := s.cfg.Datasets.Rows(c.Request.Context(), c.Param("id"), domain.Split(c.Param("split")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleListExperiments(c *gin.Context) {
	limit, err := intQuery(c, "limit", application.DefaultPageLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}

	page, err := s.cfg.Experiments.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetExperiment(c *gin.Context) {
	detail, err := s.cfg.Experiments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleDeleteExperiment(c *gin.Context) {
	id := c.Param("id")
	if err := s.cfg.Experiments.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (s *Server) handleModels(c *gin.Context) {
	refresh := false
	if v := c.Query("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(c, domain.NewInvalidInputError("refresh must be a boolean.", "refresh"))
			return
		}
		refresh = b
	}

	catalog, err := s.cfg.Catalog.Models(c.Request.Context(), refresh)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

// intQuery parses a non-negative integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.NewInvalidInputError(name+" must be a non-negative integer.", name)
	}
	return n, nil
}
