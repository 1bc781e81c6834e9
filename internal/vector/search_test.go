package vector

import (
	"context"
	"testing"

	"arxivchat/internal/models"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestBlend(t *testing.T) {
	require.InDelta(t, 0.7*0.5+0.3*0.2, Blend(0.7, 0.5, 0.2), 1e-9)
	require.InDelta(t, 0.5, Blend(1, 0.5, 0.9), 1e-9)
	require.InDelta(t, 0.9, Blend(0, 0.5, 0.9), 1e-9)
}

func TestSortByScoreDescendingWithStableTies(t *testing.T) {
	results := []models.ChunkResult{
		{PaperID: "p", ChunkIndex: 3, Score: 0.2},
		{PaperID: "p", ChunkIndex: 1, Score: 0.9},
		{PaperID: "p", ChunkIndex: 2, Score: 0.5},
		{PaperID: "p", ChunkIndex: 0, Score: 0.5},
	}
	SortByScore(results)
	got := make([]int, 0, len(results))
	for _, r := range results {
		got = append(got, r.ChunkIndex)
	}
	require.Equal(t, []int{1, 0, 2, 3}, got)
}

func TestModeWeight(t *testing.T) {
	w, err := modeWeight(ModeVector, 0.2)
	require.NoError(t, err)
	require.Equal(t, 1.0, w)

	w, err = modeWeight(ModeKeyword, 0.2)
	require.NoError(t, err)
	require.Equal(t, 0.0, w)

	w, err = modeWeight(ModeHybrid, 0.6)
	require.NoError(t, err)
	require.Equal(t, 0.6, w)

	_, err = modeWeight(ModeHybrid, 1.5)
	require.Error(t, err)
	_, err = modeWeight("fuzzy", 0.5)
	require.Error(t, err)
}

func TestSearchRejectsMissingVector(t *testing.T) {
	s := NewSearcher(nil)
	_, err := s.Search(context.Background(), Query{PaperID: "2401.00001", Text: "attention", Mode: ModeVector})
	require.Error(t, err)
}

func TestKeywordSearchWithoutTextIsEmpty(t *testing.T) {
	s := NewSearcher(nil)
	res, err := s.Search(context.Background(), Query{PaperID: "2401.00001", Mode: ModeKeyword})
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestDropZeroKeepsKeywordHits(t *testing.T) {
	in := []models.ChunkResult{{ChunkID: "a", KeywordScore: 0}, {ChunkID: "b", KeywordScore: 0.3}}
	out := dropZero(in)
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].ChunkID)
}

func TestHybridSearchScopesToActiveGeneration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"paper_id", "title", "chunk_id", "chunk_index", "section", "snippet", "text", "vs", "ks"}
	mock.ExpectQuery(`JOIN papers p ON p\.paper_id = c\.paper_id AND p\.chunk_generation = c\.generation`).
		WithArgs(pgxmock.AnyArg(), "attention heads", 0.5, 2, "2401.00001").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("2401.00001", "Attention", "c3", 3, "", "heads", "multi-head attention", 0.4, 0.8).
			AddRow("2401.00001", "Attention", "c1", 1, "Intro", "intro", "attention intro", 0.9, 0.1))

	res, err := NewSearcher(mock).Search(context.Background(), Query{
		PaperID: "2401.00001", Text: "attention heads", Vector: []float32{1, 0}, K: 2, Mode: ModeHybrid, VectorWeight: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "c3", res[0].ChunkID)
	require.InDelta(t, 0.6, res[0].Score, 1e-9)
	require.Equal(t, "c1", res[1].ChunkID)
	require.InDelta(t, 0.5, res[1].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
