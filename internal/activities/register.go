package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.PreparePaperActivity)
	w.RegisterActivity(a.FetchTextActivity)
	w.RegisterActivity(a.ChunkTextActivity)
	w.RegisterActivity(a.IndexChunksActivity)
	w.RegisterActivity(a.FinalizePaperActivity)
	w.RegisterActivity(a.FailPaperActivity)
	w.RegisterActivity(a.ListPapersActivity)
	w.RegisterActivity(a.WriteRunManifestActivity)
	w.RegisterActivity(a.GenerateInsightActivity)
}
