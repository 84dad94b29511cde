package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/honganh1206/streamchat/config"
	"github.com/honganh1206/streamchat/server"
	"github.com/honganh1206/streamchat/store"
	"github.com/honganh1206/streamchat/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	verbose    bool
	newConv    bool
	convID     string
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// loadConfig reads the config file and applies the persistent flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setupLogging(cfg.Log.SlogLevel())
	return cfg, nil
}

func setupLogging(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func ChatHandler(cmd *cobra.Command, args []string) error {
	if newConv && convID != "" {
		return errors.New("--new and --id cannot be used together")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	restoreID := convID
	if newConv {
		restoreID = ""
	}
	return interactive(cmd.Context(), cfg, st, !newConv, restoreID, os.Stdin, os.Stdout)
}

func RunServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	opts, err := serverOptions(cmd, cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return server.Serve(cmd.Context(), ln, opts)
}

// serverOptions serves the endpoints the client is configured to call.
func serverOptions(cmd *cobra.Command, cfg *config.Config) (server.Options, error) {
	noStream, err := cmd.Flags().GetBool("no-stream")
	if err != nil {
		return server.Options{}, err
	}
	chunkSize, err := cmd.Flags().GetInt("chunk-size")
	if err != nil {
		return server.Options{}, err
	}
	chunkDelay, err := cmd.Flags().GetDuration("chunk-delay")
	if err != nil {
		return server.Options{}, err
	}

	return server.Options{
		Paths:            cfg.Server,
		DisableStreaming: noStream,
		ChunkSize:        chunkSize,
		ChunkDelay:       chunkDelay,
	}, nil
}

func ConversationHandler(cmd *cobra.Command, args []string) error {
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	if !list {
		return cmd.Help()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	return listConversations(cmd.OutOrStdout(), st, time.Now())
}

func listConversations(w io.Writer, st store.Store, now time.Time) error {
	conversations, err := st.List()
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(conversations) == 0 {
		fmt.Fprintln(w, "No conversations found.")
		return nil
	}

	active, err := st.ActiveID()
	if err != nil {
		return err
	}

	headers := []string{"ID", "Created", "Last Message", "Messages"}
	var data [][]string
	for _, conv := range conversations {
		id := conv.ID
		if id == active {
			id += " *"
		}
		data = append(data, []string{
			id,
			utils.FormatRelative(conv.CreatedAt, now),
			utils.FormatRelative(conv.LatestMessageTime, now),
			fmt.Sprintf("%d", conv.MessageCount),
		})
	}
	return utils.RenderTable(w, headers, data)
}

func NewCLI() *cobra.Command {
	conversationCmd := &cobra.Command{
		Use:   "conversation",
		Short: "Show stored conversations",
		Args:  cobra.NoArgs,
		RunE:  ConversationHandler,
	}
	conversationCmd.Flags().BoolP("list", "l", false, "Display all conversations")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of streamchat",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamchat version %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local chat backend for development",
		Args:  cobra.NoArgs,
		RunE:  RunServer,
	}
	serveCmd.Flags().String("addr", ":11435", "Address to listen on")
	serveCmd.Flags().Bool("no-stream", false, "Answer the stream endpoint with 503 to exercise the fallback")
	serveCmd.Flags().Int("chunk-size", 2, "Runes per streamed chunk")
	serveCmd.Flags().Duration("chunk-delay", 30*time.Millisecond, "Pause between streamed chunks")

	rootCmd := &cobra.Command{
		Use:           "streamchat",
		Short:         "Chat with a streaming conversation service",
		Args:          cobra.NoArgs,
		RunE:          ChatHandler,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.streamchat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Chat service base URL")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&newConv, "new", "n", false, "Start a new conversation instead of restoring the last one")
	rootCmd.Flags().StringVarP(&convID, "id", "i", "", "Conversation ID to restore")

	rootCmd.AddCommand(versionCmd, conversationCmd, serveCmd)

	return rootCmd
}
