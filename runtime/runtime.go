package runtime

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/config"
	"github.com/AltaraLabs/mq/internal/console"
	"github.com/AltaraLabs/mq/internal/events"
	"github.com/AltaraLabs/mq/internal/qstore"
	"github.com/AltaraLabs/mq/internal/service"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Runtime manages the execution of mqd, handling configuration,
// signal processing, and the lifecycle of the server instance.
type Runtime struct {
	appCtx     context.Context
	appCancel  context.CancelFunc
	logger     *slog.Logger
	cfg        *config.Server
	configFile string
	rawArgs    []string // To allow flag parsing within New
	service    *service.Service
	console    *console.Server

	currentLogLevel slog.Level
}

// New creates a new Runtime instance.
// It initializes the application context, sets up signal handling,
// parses command-line flags, and loads the server configuration.
func New(args []string, defaultConfigFile string) (*Runtime, error) {

	r := &Runtime{
		rawArgs: args,
	}

	r.appCtx, r.appCancel = context.WithCancel(context.Background())
	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "mqdRuntime")

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		r.logger.Info("Received signal, initiating shutdown...", "signal", sig)
		r.appCancel()
	}()

	var genConfigFile string
	// Parse flags
	fs := flag.NewFlagSet("runtime", flag.ContinueOnError)
	fs.StringVar(&r.configFile, "config", defaultConfigFile, "Path to the server configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new server configuration file to a given path.")

	if err := fs.Parse(r.rawArgs); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if genConfigFile != "" {
		cfg, err := config.GenerateConfig(genConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to generate configuration: %w", err)
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generated config to YAML: %w", err)
		}

		dir := filepath.Dir(genConfigFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for config file %s: %w", genConfigFile, err)
			}
		}

		if err := os.WriteFile(genConfigFile, yamlData, 0644); err != nil {
			return nil, fmt.Errorf("failed to write generated configuration to %s: %w", genConfigFile, err)
		}

		r.logger.Info("Successfully generated new configuration file", "path", genConfigFile)
		os.Exit(0)
	}

	var err error
	r.cfg, err = config.LoadConfig(r.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", r.configFile, err)
	}

	// Set the log level
	if r.cfg.Logging.Level != "" {
		switch r.cfg.Logging.Level {
		case "debug":
			r.currentLogLevel = slog.LevelDebug
		case "info":
			r.currentLogLevel = slog.LevelInfo
		case "warn":
			r.currentLogLevel = slog.LevelWarn
		case "error":
			r.currentLogLevel = slog.LevelError
		default:
			color.HiYellow("Unknown logging level: %s, defaulting to info", r.cfg.Logging.Level)
			r.currentLogLevel = slog.LevelInfo
		}
	}

	r.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: r.currentLogLevel,
	})).With("service", "mqdRuntime")

	return r, nil
}

// Run starts the queue store and the HTTP service, and blocks until the
// application context is canceled.
func (r *Runtime) Run() error {
	if r.cfg == nil {
		// This situation can occur if New() was called with the --new-cfg flag,
		// which completes its task by generating the configuration file. In that path,
		// r.cfg is not loaded. Calling Run() subsequently is likely an unintentional
		// continuation by the caller.
		r.logger.Info("Runtime.Run called when cfg is not loaded (e.g., after --new-cfg). Nothing to run. Aborting Run operation.")
		return nil
	}

	if err := os.MkdirAll(r.cfg.MqdHome, os.ModePerm); err != nil {
		r.logger.Error("Failed to create mqdHome", "path", r.cfg.MqdHome, "error", err)
		return fmt.Errorf("failed to create mqdHome %s: %w", r.cfg.MqdHome, err)
	}

	if r.cfg.TLS.Cert != "" && r.cfg.TLS.Key != "" {
		if err := r.ensureTLSKeys(); err != nil {
			return err
		}
	}

	queueDir := filepath.Join(r.cfg.MqdHome, "queues")
	store, err := qstore.New(qstore.Config{
		Logger:    r.logger.WithGroup("qstore"),
		Directory: queueDir,
		AppCtx:    r.appCtx,
	})
	if err != nil {
		r.logger.Error("Failed to create queue store", "error", err)
		return fmt.Errorf("failed to create queue store: %w", err)
	}
	defer store.Close()

	ps := events.NewPubSub()

	r.service, err = service.New(
		r.appCtx,
		r.logger.WithGroup("service"),
		r.cfg,
		store,
		ps,
	)
	if err != nil {
		r.logger.Error("Failed to create service", "error", err)
		return fmt.Errorf("failed to create service: %w", err)
	}

	if r.cfg.Console.Enabled {
		if err := r.startConsole(); err != nil {
			return err
		}
	}

	r.service.Run()

	if r.console != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := r.console.Stop(shutdownCtx); err != nil {
			r.logger.Error("Console shutdown error", "error", err)
		}
	}

	return nil
}

// startConsole wires the SSH console to the server through the regular
// client so console commands go through the same validation and rate
// limiting as everyone else.
func (r *Runtime) startConsole() error {
	cli, err := client.NewClient(&client.Config{
		HostPort:     r.cfg.Binding,
		ClientDomain: r.cfg.ClientDomain,
		UseTLS:       r.cfg.TLS.Cert != "" && r.cfg.TLS.Key != "",
		SkipVerify:   r.cfg.ClientSkipVerify,
		Logger:       r.logger.With("service", "mqClient"),
	})
	if err != nil {
		r.logger.Error("Failed to create console client", "error", err)
		return fmt.Errorf("failed to create console client: %w", err)
	}

	r.console = console.NewServer(r.appCtx, r.logger, r.cfg, cli)
	if err := r.console.Start(); err != nil {
		r.logger.Error("Failed to start console", "error", err)
		return fmt.Errorf("failed to start console: %w", err)
	}
	return nil
}

// Wait for the runtime to complete its operations.
// This is typically when the application context is canceled.
func (r *Runtime) Wait() {
	<-r.appCtx.Done()
	r.logger.Info("Runtime has been shut down.")
}

// Stop gracefully shuts down the runtime by canceling its context.
func (r *Runtime) Stop() {
	r.logger.Info("Runtime stop requested.")
	r.appCancel()
}

// ensureTLSKeys generates a self-signed certificate at the configured cert
// and key paths when neither file exists yet. Existing files are left alone.
func (r *Runtime) ensureTLSKeys() error {
	_, certErr := os.Stat(r.cfg.TLS.Cert)
	_, keyErr := os.Stat(r.cfg.TLS.Key)

	if certErr == nil && keyErr == nil {
		return nil
	}
	if certErr == nil || keyErr == nil {
		return fmt.Errorf("TLS cert and key must either both exist or both be absent (cert: %s, key: %s)",
			r.cfg.TLS.Cert, r.cfg.TLS.Key)
	}

	r.logger.Info("Generating self-signed TLS certificate", "cert", r.cfg.TLS.Cert, "key", r.cfg.TLS.Key)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(10, 0, 0)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"[ M Q - L O C A L ]"},
			CommonName:   "mqd",
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	// Initialize DNSNames and IPAddresses with defaults
	template.DNSNames = []string{"localhost"}
	template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}

	// The certificate has to cover the binding and the client domain or
	// clients will refuse to connect.
	for _, addr := range []string{r.cfg.Binding, r.cfg.ClientDomain} {
		if addr == "" {
			continue
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		if host == "" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Remove duplicates
	template.IPAddresses = removeDuplicateIPs(template.IPAddresses)
	template.DNSNames = removeDuplicateStrings(template.DNSNames)

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	for _, path := range []string{r.cfg.TLS.Cert, r.cfg.TLS.Key} {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", path, err)
			}
		}
	}

	certOut, err := os.Create(r.cfg.TLS.Cert)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", r.cfg.TLS.Cert, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return fmt.Errorf("failed to write certificate to %s: %w", r.cfg.TLS.Cert, err)
	}
	r.logger.Info("Generated TLS certificate", "path", certOut.Name())

	keyOut, err := os.OpenFile(r.cfg.TLS.Key, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", r.cfg.TLS.Key, err)
	}
	defer keyOut.Close()
	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}); err != nil {
		return fmt.Errorf("failed to write key to %s: %w", r.cfg.TLS.Key, err)
	}
	r.logger.Info("Generated TLS key", "path", keyOut.Name())

	return nil
}

func removeDuplicateIPs(ips []net.IP) []net.IP {
	seen := make(map[string]bool)
	result := []net.IP{}
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		ipStr := ip.String()
		if _, ok := seen[ipStr]; !ok {
			seen[ipStr] = true
			result = append(result, ip)
		}
	}
	return result
}

func removeDuplicateStrings(s []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, item := range s {
		if _, ok := seen[item]; !ok {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
