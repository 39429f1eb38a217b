package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"

	"github.com/payneio/amplifier-bundle-foreman/internal/bundle"
	"github.com/payneio/amplifier-bundle-foreman/internal/capability"
	"github.com/payneio/amplifier-bundle-foreman/internal/config"
	convrepo "github.com/payneio/amplifier-bundle-foreman/internal/conversation/repositoryimpl"
	"github.com/payneio/amplifier-bundle-foreman/internal/foreman"
	"github.com/payneio/amplifier-bundle-foreman/internal/hook"
	"github.com/payneio/amplifier-bundle-foreman/internal/issue"
	issuerepo "github.com/payneio/amplifier-bundle-foreman/internal/issue/repositoryimpl"
	"github.com/payneio/amplifier-bundle-foreman/internal/notify"
	notifyrepo "github.com/payneio/amplifier-bundle-foreman/internal/notify/repositoryimpl"
	"github.com/payneio/amplifier-bundle-foreman/internal/provider"
	providerclaude "github.com/payneio/amplifier-bundle-foreman/internal/provider/claude"
	"github.com/payneio/amplifier-bundle-foreman/internal/server"
	"github.com/payneio/amplifier-bundle-foreman/internal/worker"
	"github.com/payneio/amplifier-bundle-foreman/pkg/clog"
	"github.com/payneio/amplifier-bundle-foreman/pkg/storage"
)

var (
	app        = kingpin.New("foreman", "Conversational work coordinator that delegates issues to worker agents")
	configPath = app.Flag("config", "Path to the foreman config file").Default("foreman.yaml").String()

	runCmd = app.Command("run", "Run the interactive foreman session")

	issueCmd = app.Command("issue", "Issue management commands")

	issueCreateCmd   = issueCmd.Command("create", "Create a new issue")
	issueCreateTitle = issueCreateCmd.Arg("title", "Issue title").Required().String()
	issueCreateDesc  = issueCreateCmd.Flag("description", "Issue description").String()
	issueCreateType  = issueCreateCmd.Flag("type", "Issue type").Default("task").String()

	issueListCmd    = issueCmd.Command("list", "List issues")
	issueListStatus = issueListCmd.Flag("status", "Filter by status").String()

	issueUpdateCmd    = issueCmd.Command("update", "Update issue status")
	issueUpdateID     = issueUpdateCmd.Arg("id", "Issue ID").Required().String()
	issueUpdateStatus = issueUpdateCmd.Arg("status", "New status").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env: %v\n", err)
		os.Exit(1)
	}

	setupLogger(env)

	store, err := setupStorage(env)
	if err != nil {
		slog.Error("failed to set up storage", "error", err)
		os.Exit(1)
	}

	issueRepo := issuerepo.NewYAMLRepository(store)
	storeTool := issue.NewStoreTool(issueRepo)

	switch command {
	case runCmd.FullCommand():
		runForeman(env, store, issueRepo, storeTool)
	case issueCreateCmd.FullCommand():
		handleIssueCreate(storeTool)
	case issueListCmd.FullCommand():
		handleIssueList(storeTool)
	case issueUpdateCmd.FullCommand():
		handleIssueUpdate(storeTool)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func setupStorage(env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		return storage.NewS3(context.Background(), env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		return storage.NewLocal(env.BaseDir)
	}
}

func runForeman(env *config.Env, store storage.Storage, issueRepo issue.Repository, storeTool *issue.StoreTool) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to resolve working directory", "error", err)
		os.Exit(1)
	}

	caps := capability.NewRegistry()
	caps.RegisterWorkingDir(cwd)

	notifyRepo := notifyrepo.NewYAMLRepository(store)
	sender := notify.NewSender(&env.VAPIDEnv, notifyRepo)

	resolver := bundle.NewResolver(caps)
	loader := bundle.NewClaudeLoader(filepath.Join(".foreman", "bundles"), store)

	sessionID := ulid.Make().String()
	tracker := worker.NewTracker(worker.TrackerOptions{
		Router:          cfg.Router(),
		Resolver:        resolver,
		Loader:          loader,
		Issues:          storeTool,
		ParentSessionID: sessionID,
		WorkDir:         cwd,
		Notifier:        sender,
	})

	hooks := hook.NewRegistry()
	history := convrepo.NewYAMLRepository(store)

	fm := foreman.New(foreman.Options{
		Provider:      providerclaude.New(cwd),
		Issues:        storeTool,
		Tools:         []provider.Tool{storeTool},
		Tracker:       tracker,
		Hooks:         hooks,
		History:       history,
		MaxIterations: cfg.MaxIterations,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.NewServer(env, tracker, issueRepo, notifyRepo)
	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	go func() {
		err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			tracker.SetRouter(updated.Router())
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	slog.Info("foreman session started", "session_id", sessionID)
	runPromptLoop(ctx, fm, tracker)

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := tracker.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker shutdown error", "error", err)
	}
}

// runPromptLoop reads prompts from stdin until EOF or shutdown. Finished
// worker tasks are swept between turns so terminal states are reported once.
func runPromptLoop(ctx context.Context, fm *foreman.Foreman, tracker *worker.Tracker) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print("foreman> ")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				fmt.Print("foreman> ")
				continue
			}
			response, err := fm.Execute(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Println(response)
			}
			tracker.Sweep(ctx)
			fmt.Print("foreman> ")
		}
	}
}

func handleIssueCreate(tool *issue.StoreTool) {
	resp, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationCreate,
		Params: issue.Params{
			Title:       *issueCreateTitle,
			Description: *issueCreateDesc,
			Metadata:    map[string]string{"type": *issueCreateType},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create issue: %v\n", err)
		os.Exit(1)
	}
	is := resp.Output.Issue
	fmt.Printf("created issue %s: %s (%s)\n", is.ID, is.Title, is.Type())
}

func handleIssueList(tool *issue.StoreTool) {
	status := issue.Status(*issueListStatus)
	if status != "" && !status.Valid() {
		fmt.Fprintf(os.Stderr, "invalid status %q\n", *issueListStatus)
		os.Exit(1)
	}
	resp, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationList,
		Params:    issue.Params{Status: status},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list issues: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Output.Issues) == 0 {
		fmt.Println("no issues")
		return
	}
	for _, is := range resp.Output.Issues {
		fmt.Printf("%s  %-18s  %s\n", is.ID, is.Status, is.Title)
	}
}

func handleIssueUpdate(tool *issue.StoreTool) {
	resp, err := tool.Execute(context.Background(), issue.Request{
		Operation: issue.OperationUpdate,
		Params: issue.Params{
			IssueID: *issueUpdateID,
			Status:  issue.Status(*issueUpdateStatus),
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to update issue: %v\n", err)
		os.Exit(1)
	}
	is := resp.Output.Issue
	fmt.Printf("updated issue %s to %s\n", is.ID, is.Status)
}
