// Package main 是 LLMFunctions 的 CLI 入口
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KodaTao/LLMFunctions/pkg/chassis"
	"github.com/KodaTao/LLMFunctions/pkg/function"
	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/manifest"
	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/server"
	"github.com/KodaTao/LLMFunctions/pkg/storage"
)

const version = "v0.1.0"

var cfgFile string

// errNoQueryBinding --query 用于没有声明 query 的清单
var errNoQueryBinding = errors.New("manifest declares no query binding")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llmfn",
		Short: "LLMFunctions - typed AI functions backed by LLM calls",
		Long: `LLMFunctions defines AI functions declaratively, executes them against a chat
provider with validated structured output, and records a trace of every execution.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(datasetCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// serveCmd 启动 HTTP 服务器
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			app := chassis.New(chassis.WithConfig(*config))
			if err := app.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			metricsPath := ""
			if config.Metrics.Enabled {
				metricsPath = config.Metrics.Path
			}
			srv := server.NewServer(app, &server.ServerConfig{
				Host:        config.Server.Host,
				Port:        config.Server.Port,
				Mode:        config.Server.Mode,
				MetricsPath: metricsPath,
			})

			// 优雅关闭
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				observability.Info("Received shutdown signal")
				_ = app.Shutdown()
				os.Exit(0)
			}()

			return srv.Run()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")
	return cmd
}

// runCmd 从清单文件执行一次函数
func runCmd() *cobra.Command {
	var (
		file      string
		vars      []string
		docs      []string
		query     string
		withTrace bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a function manifest once",
		Example: `  llmfn run -f greet.yaml --var name=Ada
  llmfn run -f summarize.yaml --doc article=./article.txt --trace`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := buildArgs(vars, docs, query)
			if err != nil {
				return err
			}

			m, err := manifest.Load(file)
			if err != nil {
				return err
			}
			if args.Query != nil && m.Query == nil {
				return fmt.Errorf("%w: %s", errNoQueryBinding, m.Name)
			}

			app, def, err := setupManifest(cmd.Context(), m)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			exec, err := app.Runner().Run(cmd.Context(), def, args, "")
			if err != nil {
				if exec != nil && withTrace {
					_ = writeJSON(cmd.OutOrStdout(), exec)
				}
				return err
			}
			if withTrace {
				return writeJSON(cmd.OutOrStdout(), exec)
			}
			return writeJSON(cmd.OutOrStdout(), exec.FinalResponse)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "function manifest (yaml or json)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "instruction placeholder value, key=value")
	cmd.Flags().StringArrayVar(&docs, "doc", nil, "document binding, name=path")
	cmd.Flags().StringVar(&query, "query", "", "query input as JSON")
	cmd.Flags().BoolVar(&withTrace, "trace", false, "print the full execution trace")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// datasetCmd 对清单中的数据集逐项执行
func datasetCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Run every dataset entry of a function manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := manifest.Load(file)
			if err != nil {
				return err
			}

			app, def, err := setupManifest(cmd.Context(), m)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			execs, runErr := app.Runner().RunDataset(cmd.Context(), def)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tEXECUTION\tVERIFIED\tRESULT")
			for i, exec := range execs {
				if exec == nil {
					fmt.Fprintf(w, "%d\t-\t-\t-\n", i)
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, exec.ID, verifiedString(exec.Verified), compactJSON(exec.FinalResponse))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "function manifest (yaml or json)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// logsCmd 查看执行记录
func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recorded executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, closeFn, err := openLogs(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tFUNCTIONS\tVERIFIED")
			for _, exec := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					exec.ID,
					exec.CreatedAt.Format("2006-01-02 15:04:05"),
					len(exec.FunctionsExecuted),
					verifiedString(exec.Verified),
				)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution with its full trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := openLogs(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			exec, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exec)
		},
	})
	return cmd
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "LLMFunctions "+version)
		},
	}
}

// setupManifest 初始化应用并从清单创建函数
func setupManifest(ctx context.Context, m *manifest.Manifest) (*chassis.App, *function.Definition, error) {
	config, err := loadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	app := chassis.New(chassis.WithConfig(*config))
	if err := app.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}

	def, err := app.CreateFromManifest(m)
	if err != nil {
		_ = app.Shutdown()
		return nil, nil, err
	}
	return app, def, nil
}

// openLogs 只打开执行记录存储，不需要 LLM 配置
func openLogs(ctx context.Context) (*logs.Registry, func(), error) {
	config, err := loadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := observability.InitLogger(observability.LogConfig{
		Level:  "warn",
		Format: config.Log.Format,
		Output: "stdout",
	}); err != nil {
		return nil, nil, err
	}

	if config.LogStore.Backend == chassis.LogStoreSQLite {
		if err := storage.InitDB(storage.Config{Path: config.Database.Path}); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	store, closer, err := chassis.OpenLogStore(config)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if closer != nil {
			_ = closer()
		}
		_ = storage.Close()
	}

	reg := logs.NewRegistry(store)
	if err := reg.Init(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return reg, closeFn, nil
}

// buildArgs 解析命令行参数为调用参数
func buildArgs(vars, docs []string, query string) (function.Args, error) {
	var args function.Args

	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return args, fmt.Errorf("invalid --var %q, expected key=value", kv)
		}
		if args.Instructions == nil {
			args.Instructions = make(map[string]any)
		}
		args.Instructions[key] = value
	}

	for _, kv := range docs {
		name, path, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return args, fmt.Errorf("invalid --doc %q, expected name=path", kv)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return args, fmt.Errorf("failed to read document %s: %w", name, err)
		}
		if args.Documents == nil {
			args.Documents = make(map[string]string)
		}
		args.Documents[name] = string(data)
	}

	if query != "" {
		var q any
		if err := json.Unmarshal([]byte(query), &q); err != nil {
			return args, fmt.Errorf("invalid --query: %w", err)
		}
		args.Query = q
	}
	return args, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func verifiedString(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return "yes"
	default:
		return "no"
	}
}
