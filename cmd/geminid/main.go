package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	gemini "github.com/knowfox/gemini"
	"github.com/knowfox/gemini/internal/config"
	"github.com/knowfox/gemini/internal/statichost"
)

func main() {
	var (
		configPath string
		listen     string
		root       string
		browse     bool
		cert       string
		key        string
	)
	flag.StringVar(&configPath, "config", "", "path to a listener configuration JSON file (spec.md §6.5)")
	flag.StringVar(&listen, "listen", ":1965", "address to listen on when -config is not given")
	flag.StringVar(&root, "root", ".", "root directory served by the built-in static file host")
	flag.BoolVar(&browse, "browse", true, "allow directory listings under -root")
	flag.StringVar(&cert, "cert", "", "server certificate file (PEM, cert+key combined); a developer certificate is generated if empty")
	flag.StringVar(&key, "key", "", "ignored: -cert must contain both the certificate and the private key blocks")
	flag.Parse()

	log := logrus.StandardLogger()

	hosts := []gemini.Host{
		statichost.New([]statichost.Entry{{
			RootDirectory:          root,
			AllowDirectoryBrowsing: browse,
		}}, 0, log),
	}

	configs, err := resolveListenerConfigs(configPath, listen, cert)
	if err != nil {
		log.WithError(err).Fatal("failed to load listener configuration")
	}

	orch := &config.Orchestrator{Hosts: hosts, Log: log}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx, configs); err != nil {
		log.WithError(err).Fatal("failed to start listeners")
	}
	log.Info("gemini server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	orch.Stop(ctx)
}

// resolveListenerConfigs loads configPath if given, otherwise synthesizes a
// single listener from the -listen/-cert flags.
func resolveListenerConfigs(configPath, listen, cert string) ([]config.ListenerConfig, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	certs := map[string]string{}
	if cert != "" {
		certs["*"] = cert
	}
	return []config.ListenerConfig{{
		Listen:             listen,
		ServerCertificates: certs,
	}}, nil
}
