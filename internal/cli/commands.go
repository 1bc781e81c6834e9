package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"arxivchat/internal/arxiv"
	"arxivchat/internal/ingest"
	"arxivchat/internal/models"

	"github.com/spf13/cobra"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		Run:   runMigrate,
	}

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search arXiv",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}
	searchCmd.Flags().IntP("limit", "l", 10, "Max results")

	ingestCmd := &cobra.Command{
		Use:   "ingest [arxiv-id]",
		Short: "Save a paper to the library and index its full text",
		Args:  cobra.ExactArgs(1),
		Run:   runIngest,
	}
	ingestCmd.Flags().String("kind", ingest.KindAuto, "Source: auto, html or pdf")
	ingestCmd.Flags().String("file", "", "Ingest a local PDF instead of downloading")

	askCmd := &cobra.Command{
		Use:   "ask [arxiv-id]",
		Short: "Chat with a library paper; reads questions from stdin",
		Args:  cobra.ExactArgs(1),
		Run:   runAsk,
	}
	askCmd.Flags().StringP("user", "u", "cli", "User id the conversation is stored under")

	insightsCmd := &cobra.Command{
		Use:   "insights [arxiv-id]",
		Short: "Generate a fresh insight for a library paper",
		Args:  cobra.ExactArgs(1),
		Run:   runInsights,
	}

	RootCmd.AddCommand(migrateCmd, searchCmd, ingestCmd, askCmd, insightsCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()
	if err := a.DB.Migrate(cmd.Context()); err != nil {
		exitErr("migrate", err)
	}
	fmt.Println("schema applied")
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	papers, err := a.Search.Search(cmd.Context(), strings.Join(args, " "), min(limit, a.Cfg.ArxivMaxResults))
	if err != nil {
		exitErr("search", err)
	}
	if formatFlag == "json" {
		printJSON(papers)
		return
	}
	for _, p := range papers {
		fmt.Printf("%s  %s\n    %s\n", p.PaperID, p.Title, strings.Join(p.Authors, ", "))
	}
}

func runIngest(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	file, _ := cmd.Flags().GetString("file")
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	src := ingest.Source{PaperID: arxiv.NormalizeID(args[0]), Kind: kind}
	if file != "" {
		src.Kind, src.Path = ingest.KindLocal, file
		if err := a.Papers.UpsertPaper(cmd.Context(), models.Paper{
			PaperID:    src.PaperID,
			Title:      src.PaperID,
			SourceKind: ingest.KindLocal,
			Status:     models.PaperStatusPending,
		}); err != nil {
			exitErr("save paper", err)
		}
	}
	paper, err := a.Pipeline.Ingest(cmd.Context(), src)
	if err != nil {
		exitErr("ingest "+src.PaperID, err)
	}
	if formatFlag == "json" {
		printJSON(paper)
		return
	}
	fmt.Printf("%s ready: %d chunks from %s (generation %d)\n", paper.PaperID, paper.ChunkCount, paper.SourceKind, paper.ChunkGeneration)
}

func runAsk(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	sess, err := a.Chat.Open(ctx, user, arxiv.NormalizeID(args[0]))
	if err != nil {
		exitErr("open session", err)
	}
	defer func() { _ = a.Chat.Close(ctx, sess.SessionID) }()

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !in.Scan() {
			return
		}
		q := strings.TrimSpace(in.Text())
		if q == "" {
			continue
		}
		ans, err := a.Chat.Ask(ctx, sess.SessionID, q)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if formatFlag == "json" {
			printJSON(ans)
			continue
		}
		fmt.Println(ans.Text)
		if ans.Degraded {
			fmt.Println("(answered without paper excerpts)")
		}
		for i, c := range ans.Citations {
			fmt.Printf("  [C%d] %s\n", i+1, c.ChunkID)
		}
	}
}

func runInsights(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	ins, err := a.Insight.Refresh(cmd.Context(), arxiv.NormalizeID(args[0]), func(stage string, done, total int) {
		fmt.Fprintf(os.Stderr, "%s %d/%d\n", stage, done, total)
	})
	if err != nil && ins.PaperID == "" {
		exitErr("insights", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if formatFlag == "json" {
		printJSON(ins)
		return
	}
	fmt.Printf("insight v%d for %s\n\n", ins.Version, ins.PaperID)
	for _, q := range ins.Questions {
		fmt.Printf("Q%d. %s\n", q.Index+1, q.Question)
		if q.Status == models.QuestionAnswered {
			fmt.Printf("    %s\n", q.Answer)
		} else {
			fmt.Printf("    (failed: %s)\n", q.Error)
		}
	}
	fmt.Printf("\n%s\n", ins.Summary)
}
