package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neuralhub/neuralhub/internal/api"
	"github.com/neuralhub/neuralhub/internal/chat"
	"github.com/neuralhub/neuralhub/internal/config"
	"github.com/neuralhub/neuralhub/internal/credential"
	"github.com/neuralhub/neuralhub/internal/quota"
	"github.com/neuralhub/neuralhub/internal/responder"
	"github.com/neuralhub/neuralhub/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the neuralhub daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running neuralhub daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show neuralhub system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "neuralhub.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// slogNotifier routes store notifications into the daemon log.
type slogNotifier struct{}

func (slogNotifier) Success(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func (slogNotifier) Info(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func (slogNotifier) Error(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "neuralhub version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("neuralhub is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("neuralhub is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Wire the stores.
	notify := slogNotifier{}
	creds := credential.NewStore(store, notify)
	gate := quota.NewGate(store, cfg.FreeTier.MaxRequests)
	sim := responder.NewSimulator(time.Duration(cfg.Chat.ResponderDelayMS) * time.Millisecond)
	chatStore := chat.NewStore(store, creds, gate, sim, notify, cfg.Chat.DefaultModel)

	deps := api.Deps{
		Chat:        chatStore,
		Credentials: creds,
		Gate:        gate,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Chat: chatStore,
		Gate: gate,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "neuralhub listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("neuralhub is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop neuralhub (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to neuralhub (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := httpClient.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		client := &apiClient{baseURL: serverURL, httpClient: httpClient}

		var (
			session struct {
				Model             string `json:"model"`
				ConversationTitle string `json:"conversation_title"`
			}
			usage struct {
				Used int `json:"used"`
				Max  int `json:"max"`
			}
			convCount int
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			resp, err := client.get(gctx, "/v1/session")
			if err != nil {
				return err
			}
			return decodeJSON(resp, &session)
		})
		g.Go(func() error {
			resp, err := client.get(gctx, "/v1/usage")
			if err != nil {
				return err
			}
			return decodeJSON(resp, &usage)
		})
		g.Go(func() error {
			resp, err := client.get(gctx, "/v1/conversations")
			if err != nil {
				return err
			}
			var convs []struct {
				ID string `json:"id"`
			}
			if err := decodeJSON(resp, &convs); err != nil {
				return err
			}
			convCount = len(convs)
			return nil
		})
		if err := g.Wait(); err != nil {
			printError("could not query daemon: %v", err)
		} else {
			printStatus("Model", "%s", session.Model)
			if session.ConversationTitle != "" {
				printStatus("Conversation", "%s", session.ConversationTitle)
			}
			printStatus("Conversations", "%d", convCount)
			printStatus("Free tier", "%d/%d requests used", usage.Used, usage.Max)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
