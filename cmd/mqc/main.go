package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/config"
	"github.com/AltaraLabs/mq/models"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	logger     *slog.Logger
	configPath string
	serverCfg  *config.Server
	serverAddr string
	useTLS     bool
	skipVerify bool
)

func init() {
	logOpts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}
	handler := slog.NewTextHandler(os.Stderr, logOpts)
	logger = slog.New(handler)

	flag.StringVar(&configPath, "config", "mqd.yaml", "Path to the server configuration file")
	flag.StringVar(&serverAddr, "server", "", "Server host:port. Overrides the configuration file. Defaults to MQ_SERVER environment variable.")
	flag.BoolVar(&useTLS, "tls", false, "Connect over HTTPS. Only meaningful with --server.")
	flag.BoolVar(&skipVerify, "skip-verify", false, "Skip TLS certificate verification. Only meaningful with --server.")
}

func loadConfig(path string) (*config.Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg config.Server
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}
	return &cfg, nil
}

func processAddress(addr string) string {
	if strings.HasPrefix(addr, "https://") {
		addr = strings.TrimPrefix(addr, "https://")
		useTLS = true
	} else if strings.HasPrefix(addr, "http://") {
		addr = strings.TrimPrefix(addr, "http://")
	}

	if !strings.Contains(addr, ":") {
		addr = addr + ":8080"
	}

	return addr
}

func getClientNoConfig() (*client.Client, error) {
	addr := serverAddr
	if addr == "" {
		addr = os.Getenv("MQ_SERVER")
	}
	if addr == "" {
		return nil, fmt.Errorf("no address provided: use --server or set the MQ_SERVER environment variable")
	}

	addr = processAddress(addr)

	c, err := client.NewClient(&client.Config{
		HostPort:   addr,
		UseTLS:     useTLS,
		SkipVerify: skipVerify,
		Logger:     logger.WithGroup("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	return c, nil
}

func getClient(cfg *config.Server) (*client.Client, error) {
	if cfg.Binding == "" {
		return nil, fmt.Errorf("binding is missing from configuration file %s", configPath)
	}

	c, err := client.NewClient(&client.Config{
		HostPort:     cfg.Binding,
		ClientDomain: cfg.ClientDomain,
		UseTLS:       cfg.TLS.Cert != "" && cfg.TLS.Key != "",
		SkipVerify:   cfg.ClientSkipVerify,
		Logger:       logger.WithGroup("client"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Binding, err)
	}
	return c, nil
}

func main() {
	flag.Parse()

	configExplicitlyProvided := configPath != "mqd.yaml"
	addressProvided := serverAddr != "" || os.Getenv("MQ_SERVER") != ""
	if configExplicitlyProvided && addressProvided {
		logger.Error("Cannot use both --config flag and --server/MQ_SERVER simultaneously")
		fmt.Fprintf(os.Stderr, "%s Cannot use --config flag with --server or MQ_SERVER\n", color.RedString("Error:"))
		os.Exit(1)
	}

	var err error
	var cli *client.Client

	if addressProvided {
		cli, err = getClientNoConfig()
	} else {
		serverCfg, err = loadConfig(configPath)
		if err != nil {
			logger.Error("Failed to load server configuration", "error", err)
			fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
			os.Exit(1)
		}
		cli, err = getClient(serverCfg)
	}
	if err != nil {
		logger.Error("Failed to initialize API client", "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "create":
		handleCreate(cli, cmdArgs)
	case "delete":
		handleDelete(cli, cmdArgs)
	case "push":
		handlePush(cli, cmdArgs)
	case "pop":
		handlePop(cli, cmdArgs)
	case "peek":
		handlePeek(cli, cmdArgs)
	case "count":
		handleCount(cli, cmdArgs)
	case "exists":
		handleExists(cli, cmdArgs)
	case "list":
		handleList(cli, cmdArgs)
	case "ping":
		handlePing(cli, cmdArgs)
	case "subscribe":
		handleSubscribe(cli, cmdArgs)
	default:
		logger.Error("Unknown command", "command", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: mqc [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("create"), color.CyanString("<queue>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("delete"), color.CyanString("<queue>"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("push"), color.CyanString("<queue>"), color.CyanString("<message>"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("pop"), color.CyanString("<queue>"), color.CyanString("[n]"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("peek"), color.CyanString("<queue>"), color.CyanString("[n]"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("count"), color.CyanString("<queue>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("exists"), color.CyanString("<queue>"))
	fmt.Fprintf(os.Stderr, "  %s\n", color.GreenString("list"))
	fmt.Fprintf(os.Stderr, "  %s\n", color.GreenString("ping"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("subscribe"), color.CyanString("<queue>"))
}

func handleCreate(c *client.Client, args []string) {
	if len(args) != 1 {
		logger.Error("create: requires <queue>")
		printUsage()
		os.Exit(1)
	}
	queue := args[0]
	if err := c.CreateQueue(queue); err != nil {
		logger.Error("Create failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	color.HiGreen("OK")
}

func handleDelete(c *client.Client, args []string) {
	if len(args) != 1 {
		logger.Error("delete: requires <queue>")
		printUsage()
		os.Exit(1)
	}
	queue := args[0]
	if err := c.DeleteQueue(queue); err != nil {
		logger.Error("Delete failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	color.HiGreen("OK")
}

func handlePush(c *client.Client, args []string) {
	if len(args) < 2 {
		logger.Error("push: requires <queue> <message>")
		printUsage()
		os.Exit(1)
	}
	queue := args[0]
	payload := strings.Join(args[1:], " ")

	// Payloads that parse as JSON go in verbatim, anything else is sent as
	// a JSON string.
	var message any = payload
	if json.Valid([]byte(payload)) {
		message = json.RawMessage(payload)
	}

	id, err := c.Push(queue, message)
	if err != nil {
		logger.Error("Push failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Println(id)
}

func handlePop(c *client.Client, args []string) {
	queue, n := queueAndCountArgs("pop", args)
	messages, err := c.Pop(queue, n)
	if err != nil {
		logger.Error("Pop failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	printMessages(messages)
}

func handlePeek(c *client.Client, args []string) {
	queue, n := queueAndCountArgs("peek", args)
	messages, err := c.Peek(queue, n)
	if err != nil {
		logger.Error("Peek failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	printMessages(messages)
}

func queueAndCountArgs(command string, args []string) (string, int) {
	if len(args) < 1 || len(args) > 2 {
		logger.Error(command + ": requires <queue> [n]")
		printUsage()
		os.Exit(1)
	}
	n := 1
	if len(args) == 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			logger.Error(command+": invalid message count", "n", args[1], "error", err)
			fmt.Fprintf(os.Stderr, "%s invalid message count '%s'\n", color.RedString("Error:"), args[1])
			os.Exit(1)
		}
		n = parsed
	}
	return args[0], n
}

func printMessages(messages []models.QueueMessage) {
	if len(messages) == 0 {
		color.HiYellow("No messages.")
		return
	}
	for _, msg := range messages {
		fmt.Printf("%s: %s\n", color.CyanString(strconv.FormatUint(msg.ID, 10)), string(msg.Message))
	}
}

func handleCount(c *client.Client, args []string) {
	if len(args) != 1 {
		logger.Error("count: requires <queue>")
		printUsage()
		os.Exit(1)
	}
	queue := args[0]
	count, err := c.Count(queue)
	if err != nil {
		logger.Error("Count failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Println(count)
}

func handleExists(c *client.Client, args []string) {
	if len(args) != 1 {
		logger.Error("exists: requires <queue>")
		printUsage()
		os.Exit(1)
	}
	queue := args[0]
	exists, err := c.Exists(queue)
	if err != nil {
		logger.Error("Exists failed", "queue", queue, "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Println(exists)
}

func handleList(c *client.Client, args []string) {
	if len(args) != 0 {
		logger.Error("list: does not take arguments")
		printUsage()
		os.Exit(1)
	}
	queues, err := c.ListQueues()
	if err != nil {
		logger.Error("List failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	if len(queues) == 0 {
		color.HiYellow("No queues found.")
		return
	}
	for _, queue := range queues {
		fmt.Println(queue)
	}
}

func handlePing(c *client.Client, args []string) {
	if len(args) != 0 {
		logger.Error("ping: does not take arguments")
		printUsage()
		os.Exit(1)
	}
	resp, err := c.Ping()
	if err != nil {
		logger.Error("Ping failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	fmt.Println("Ping Response:")
	fmt.Printf("  status: %s\n", resp.Status)
	fmt.Printf("  uptime: %s\n", resp.Uptime)
}

func handleSubscribe(c *client.Client, args []string) {
	if len(args) != 1 {
		logger.Error("subscribe: requires <queue>")
		printUsage()
		os.Exit(1)
	}
	topic := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, requesting WebSocket closure...", "signal", sig.String())
		cancel() // Cancel the context to signal SubscribeToEvents to close
	}()

	cb := func(ev models.QueueEvent) {
		line, err := json.Marshal(ev)
		if err != nil {
			logger.Error("Failed to marshal event", "error", err)
			return
		}
		fmt.Println(string(line))
	}

	err := c.SubscribeToEvents(ctx, topic, cb)
	if err != nil {
		// context.Canceled is an expected error on graceful shutdown, others are not.
		if err == context.Canceled {
			logger.Info("Subscription cancelled gracefully.", "topic", topic)
		} else {
			logger.Error("Subscription failed", "topic", topic, "error", err)
			fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
			os.Exit(1)
		}
	}
}
