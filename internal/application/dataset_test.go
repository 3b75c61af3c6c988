package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/testutils"
)

func newExperiment(t *testing.T, st ports.ExperimentStore) string {
	t.Helper()
	exp := &domain.Experiment{
		TaskDescription: "Classify feedback",
		BasePrompt:      "You are a classifier.",
		RunnerModel:     domain.RunnerConfig{Provider: "gemini", Model: "gemini-3-flash-preview"},
	}
	require.NoError(t, st.CreateExperiment(context.Background(), exp))
	return exp.ID
}

func rowInputs(n int) []DatasetRowInput {
	rows := make([]DatasetRowInput, n)
	for i := range rows {
		rows[i] = DatasetRowInput{Query: fmt.Sprintf("q%d", i), ExpectedOutput: fmt.Sprintf("e%d", i)}
	}
	return rows
}

func countSplits(splits []domain.Split) SplitCounts {
	var counts SplitCounts
	for _, s := range splits {
		counts.add(s)
	}
	return counts
}

func TestAssignSplits(t *testing.T) {
	tests := []struct {
		name               string
		rows               []DatasetRowInput
		wantTrain, wantVal int
		wantTest           int
	}{
		{name: "zero rows"},
		{name: "one row", rows: rowInputs(1), wantTrain: 1},
		{name: "two rows", rows: rowInputs(2), wantTrain: 1, wantTest: 1},
		{name: "ten rows", rows: rowInputs(10), wantTrain: 7, wantVal: 2, wantTest: 1},
		{name: "twenty rows", rows: rowInputs(20), wantTrain: 14, wantVal: 3, wantTest: 3},
		{
			name: "pre-assigned rows count toward their split",
			rows: append([]DatasetRowInput{{Query: "q", ExpectedOutput: "e", Split: domain.SplitVal}}, rowInputs(2)...),
			// The two open rows split 1 train / 0 val / 1 test.
			wantTrain: 1, wantVal: 1, wantTest: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssignSplits(tt.rows, DefaultTrainRatio, DefaultValRatio, rand.New(rand.NewPCG(1, 2)))
			require.Len(t, got, len(tt.rows))
			assert.Equal(t, SplitCounts{Train: tt.wantTrain, Val: tt.wantVal, Test: tt.wantTest, Total: len(tt.rows)}, countSplits(got))
		})
	}
}

func TestAssignSplits_Shuffles(t *testing.T) {
	pinned := map[int]domain.Split{0: domain.SplitTest, 5: domain.SplitTrain, 11: domain.SplitVal}
	rows := rowInputs(13)
	for i, s := range pinned {
		rows[i].Split = s
	}
	var openRows []int
	for i := range rows {
		if _, ok := pinned[i]; !ok {
			openRows = append(openRows, i)
		}
	}
	inOrder := make([]domain.Split, len(openRows))
	for j := range inOrder {
		switch {
		case j < 7:
			inOrder[j] = domain.SplitTrain
		case j < 9:
			inOrder[j] = domain.SplitVal
		default:
			inOrder[j] = domain.SplitTest
		}
	}

	rng := rand.New(rand.NewPCG(7, 11))
	shuffled := false
	for range 20 {
		got := AssignSplits(rows, DefaultTrainRatio, DefaultValRatio, rng)

		for i, s := range pinned {
			assert.Equal(t, s, got[i], "Row %d keeps its assigned split", i)
		}
		open := make([]domain.Split, len(openRows))
		for j, i := range openRows {
			open[j] = got[i]
		}
		assert.Equal(t, SplitCounts{Train: 7, Val: 2, Test: 1, Total: 10}, countSplits(open))
		if !slices.Equal(open, inOrder) {
			shuffled = true
		}
	}
	assert.True(t, shuffled, "Open rows should not always be assigned in input order")

	first := AssignSplits(rows, DefaultTrainRatio, DefaultValRatio, rand.New(rand.NewPCG(3, 4)))
	again := AssignSplits(rows, DefaultTrainRatio, DefaultValRatio, rand.New(rand.NewPCG(3, 4)))
	assert.Equal(t, first, again, "The same seed gives the same assignment")
}

func TestDatasetService_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("without auto-split defaults to train", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)
		svc := NewDatasetService(st, nil)

		res, err := svc.Upload(ctx, DatasetUpload{ExperimentID: id, Rows: rowInputs(2)})
		require.NoError(t, err)

		assert.Equal(t, id, res.ExperimentID)
		assert.Equal(t, SplitCounts{Train: 2, Total: 2}, res.Splits)
		require.Len(t, res.RowIDs, 2)
		assert.NotEmpty(t, res.RowIDs[0])

		stored, err := st.ListDatasetRows(ctx, id, "")
		require.NoError(t, err)
		assert.Equal(t, res.RowIDs[0], stored[0].ID)
		assert.Equal(t, "q0", stored[0].Query)
	})

	t.Run("explicit splits without auto-split", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)

		rows := rowInputs(2)
		rows[1].Split = domain.SplitVal
		res, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{ExperimentID: id, Rows: rows})
		require.NoError(t, err)
		assert.Equal(t, SplitCounts{Train: 1, Val: 1, Total: 2}, res.Splits)
	})

	t.Run("auto-split with default ratios", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)

		res, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{ExperimentID: id, Rows: rowInputs(10), AutoSplit: true})
		require.NoError(t, err)
		assert.Equal(t, SplitCounts{Train: 7, Val: 2, Test: 1, Total: 10}, res.Splits)
	})

	t.Run("auto-split with custom ratios", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)

		train, val, test := 0.5, 0.25, 0.25
		res, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{
			ExperimentID: id, Rows: rowInputs(8), AutoSplit: true,
			TrainRatio: &train, ValRatio: &val, TestRatio: &test,
		})
		require.NoError(t, err)
		assert.Equal(t, SplitCounts{Train: 4, Val: 2, Test: 2, Total: 8}, res.Splits)
	})

	t.Run("ratios must sum to one", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)

		train := 0.9
		_, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{
			ExperimentID: id, Rows: rowInputs(3), AutoSplit: true, TrainRatio: &train,
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("zero rows", func(t *testing.T) {
		st := testutils.NewStore(t)
		id := newExperiment(t, st)

		res, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{ExperimentID: id, AutoSplit: true})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Splits.Total)
		assert.Empty(t, res.RowIDs)
	})

	t.Run("missing experiment", func(t *testing.T) {
		st := testutils.NewStore(t)

		_, err := NewDatasetService(st, nil).Upload(ctx, DatasetUpload{ExperimentID: "nonexistent-id", Rows: rowInputs(1)})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestDatasetService_StatsAndRows(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewStore(t)
	id := newExperiment(t, st)
	svc := NewDatasetService(st, nil)

	rows := rowInputs(3)
	rows[0].Split = domain.SplitTrain
	rows[1].Split = domain.SplitTrain
	rows[2].Split = domain.SplitVal
	_, err := svc.Upload(ctx, DatasetUpload{ExperimentID: id, Rows: rows})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SplitCounts{Train: 2, Val: 1, Total: 3}, stats)

	train, err := svc.Rows(ctx, id, domain.SplitTrain)
	require.NoError(t, err)
	require.Len(t, train, 2)
	for _, r := range train {
		assert.Equal(t, domain.SplitTrain, r.Split)
	}

	test, err := svc.Rows(ctx, id, domain.SplitTest)
	require.NoError(t, err)
	assert.NotNil(t, test, "Empty split should be an empty slice")
	assert.Empty(t, test)

	_, err = svc.Rows(ctx, id, "holdout")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = svc.Stats(ctx, "nonexistent")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.Rows(ctx, "nonexistent", domain.SplitTrain)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
