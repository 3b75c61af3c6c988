package application

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Default auto-split ratios.
const (
	DefaultTrainRatio = 0.70
	DefaultValRatio   = 0.15
	DefaultTestRatio  = 0.15
)

// ratioTolerance absorbs float error when checking that ratios sum to one.
const ratioTolerance = 1e-6

// DatasetRowInput is one uploaded row. An empty Split leaves the row to the
// auto-split, or to "train" when auto-split is off.
type DatasetRowInput struct {
	Query          string       `json:"query" binding:"required"`
	ExpectedOutput string       `json:"expectedOutput" binding:"required"`
	SoftNegatives  string       `json:"softNegatives,omitempty"`
	HardNegatives  string       `json:"hardNegatives,omitempty"`
	Split          domain.Split `json:"split,omitempty" binding:"omitempty,oneof=train val test"`
}

// DatasetUpload appends rows to an existing experiment.
type DatasetUpload struct {
	ExperimentID string            `json:"experimentId" binding:"required"`
	Rows         []DatasetRowInput `json:"rows" binding:"dive"`
	AutoSplit    bool              `json:"autoSplit"`
	// Ratios are used only with AutoSplit. Nil means the default.
	TrainRatio *float64 `json:"trainRatio,omitempty" binding:"omitempty,gte=0,lte=1"`
	ValRatio   *float64 `json:"valRatio,omitempty" binding:"omitempty,gte=0,lte=1"`
	TestRatio  *float64 `json:"testRatio,omitempty" binding:"omitempty,gte=0,lte=1"`
}

// SplitCounts counts rows per split.
type SplitCounts struct {
	Train int `json:"train"`
	Val   int `json:"val"`
	Test  int `json:"test"`
	Total int `json:"total"`
}

func (c *SplitCounts) add(s domain.Split) {
	switch s {
	case domain.SplitTrain:
		c.Train++
	case domain.SplitVal:
		c.Val++
	case domain.SplitTest:
		c.Test++
	}
	c.Total++
}

// UploadResult reports the stored rows of one upload.
type UploadResult struct {
	ExperimentID string      `json:"experimentId"`
	Splits       SplitCounts `json:"splits"`
	RowIDs       []string    `json:"rowIds"`
}

// DatasetService manages the labeled rows of experiments.
type DatasetService struct {
	store ports.ExperimentStore

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDatasetService creates a DatasetService. rng shuffles auto-split rows;
// nil seeds a fresh source.
func NewDatasetService(store ports.ExperimentStore, rng *rand.Rand) *DatasetService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DatasetService{store: store, rng: rng}
}

// Upload stores the rows of req in input order. Splits in the result count
// the uploaded rows only.
func (s *DatasetService) Upload(ctx context.Context, req DatasetUpload) (*UploadResult, error) {
	if _, err := s.store.GetExperiment(ctx, req.ExperimentID); err != nil {
		return nil, err
	}

	var splits []domain.Split
	if req.AutoSplit {
		ratios := [3]float64{
			valueOr(req.TrainRatio, DefaultTrainRatio),
			valueOr(req.ValRatio, DefaultValRatio),
			valueOr(req.TestRatio, DefaultTestRatio),
		}
		if sum := ratios[0] + ratios[1] + ratios[2]; math.Abs(sum-1) > ratioTolerance {
			return nil, domain.NewInvalidInputError(
				fmt.Sprintf("Split ratios must sum to 1, got %.4g.", sum),
				"trainRatio", "valRatio", "testRatio",
			)
		}
		s.mu.Lock()
		splits = AssignSplits(req.Rows, ratios[0], ratios[1], s.rng)
		s.mu.Unlock()
	} else {
		splits = make([]domain.Split, len(req.Rows))
		for i, in := range req.Rows {
			splits[i] = in.Split
			if splits[i] == "" {
				splits[i] = domain.SplitTrain
			}
		}
	}

	rows := make([]domain.DatasetRow, len(req.Rows))
	for i, in := range req.Rows {
		rows[i] = domain.DatasetRow{
			ExperimentID:   req.ExperimentID,
			Split:          splits[i],
			Query:          in.Query,
			ExpectedOutput: in.ExpectedOutput,
			SoftNegatives:  in.SoftNegatives,
			HardNegatives:  in.HardNegatives,
		}
	}
	if len(rows) > 0 {
		if err := s.store.AddDatasetRows(ctx, rows); err != nil {
			return nil, fmt.Errorf("store dataset rows: %w", err)
		}
	}

	res := &UploadResult{ExperimentID: req.ExperimentID, RowIDs: make([]string, len(rows))}
	for i, row := range rows {
		res.RowIDs[i] = row.ID
		res.Splits.add(row.Split)
	}
	return res, nil
}

// AssignSplits returns the split of each input row. Rows that already carry
// a split keep it and are left out of the shuffle. The remaining n rows are
// shuffled with rng, then round(n*train) go to train, round(n*val) to val
// and the rest to test, where rounding is half to even.
func AssignSplits(rows []DatasetRowInput, train, val float64, rng *rand.Rand) []domain.Split {
	out := make([]domain.Split, len(rows))

	var open []int
	for i, in := range rows {
		if in.Split != "" {
			out[i] = in.Split
			continue
		}
		open = append(open, i)
	}

	rng.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })

	n := len(open)
	nTrain := min(int(math.RoundToEven(float64(n)*train)), n)
	nVal := min(int(math.RoundToEven(float64(n)*val)), n-nTrain)

	for j, i := range open {
		switch {
		case j < nTrain:
			out[i] = domain.SplitTrain
		case j < nTrain+nVal:
			out[i] = domain.SplitVal
		default:
			out[i] = domain.SplitTest
		}
	}
	return out
}

// Stats counts the rows of an experiment per split.
func (s *DatasetService) Stats(ctx context.Context, experimentID string) (SplitCounts, error) {
	rows, err := s.Rows(ctx, experimentID, "")
	if err != nil {
		return SplitCounts{}, err
	}

	var counts SplitCounts
	for _, r := range rows {
		counts.add(r.Split)
	}
	return counts, nil
}

// Rows lists the rows of an experiment in one split, or all rows when split
// is empty.
func (s *DatasetService) Rows(ctx context.Context, experimentID string, split domain.Split) ([]domain.DatasetRow, error) {
	if split != "" && !split.Valid() {
		return nil, domain.NewInvalidInputError(
			fmt.Sprintf("Unknown split %q; expected train, val or test.", split), "split")
	}
	if _, err := s.store.GetExperiment(ctx, experimentID); err != nil {
		return nil, err
	}

	rows, err := s.store.ListDatasetRows(ctx, experimentID, split)
	if err != nil {
		return nil, fmt.Errorf("list dataset rows: %w", err)
	}
	if rows == nil {
		rows = []domain.DatasetRow{}
	}
	return rows, nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
