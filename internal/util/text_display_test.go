package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisplaySnippetCleansAndClips(t *testing.T) {
	require.Equal(t, "Hello world", DisplaySnippet("Hello\x00   world \n\t", 100))
	require.Equal(t, "Results Show 3 gains", DisplaySnippet("ResultsShow3gains", 100))

	out := DisplaySnippet("alpha beta gamma delta epsilon", 20)
	require.Equal(t, "alpha beta gamma...", out)
}

func TestDisplayEvidenceSnippetKeepsReadingOrder(t *testing.T) {
	chunk := "We evaluate latency on edge workloads. Background on schedulers follows. " +
		"Edge workload latency drops by 3.5 ms, cf. Fig. 2 for details. Unrelated appendix text."
	out := DisplayEvidenceSnippet(chunk, "What are edge workload latency results?", 400)
	require.Equal(t, "We evaluate latency on edge workloads. Edge workload latency drops by 3.5 ms, cf. Fig. 2 for details.", out)
}

func TestDisplayEvidenceSnippetFallsBack(t *testing.T) {
	chunk := "First sentence here. Second sentence there."
	require.Equal(t, chunk, DisplayEvidenceSnippet(chunk, "the of", 400))
	require.Equal(t, chunk, DisplayEvidenceSnippet(chunk, "quantum chromodynamics", 400))
	require.Equal(t, "", DisplayEvidenceSnippet("  \x00 ", "anything", 400))
}

func TestSplitSentencesKeepsAbbreviations(t *testing.T) {
	got := splitSentences("Smith et al. report 2.5x speedups, e.g. on GPUs. It works! Does it scale?")
	require.Equal(t, []string{"Smith et al. report 2.5x speedups, e.g. on GPUs.", "It works!", "Does it scale?"}, got)
}

func TestQueryTermsDropsStopwords(t *testing.T) {
	require.Equal(t, []string{"main", "contribution"}, queryTerms("What is the main contribution of this paper?"))
}
