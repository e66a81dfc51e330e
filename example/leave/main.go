package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/rs/xid"

	"github.com/tbxark/slotflow/audit"
	"github.com/tbxark/slotflow/config"
	"github.com/tbxark/slotflow/dispatch"
	"github.com/tbxark/slotflow/engine"
	"github.com/tbxark/slotflow/extract"
	"github.com/tbxark/slotflow/intent"
	"github.com/tbxark/slotflow/session"
)

func main() {
	conf := flag.String("config", "", "path to yaml config file (optional)")
	flag.Parse()

	cfg := defaultConfig()
	if *conf != "" {
		loaded, err := config.Load(*conf)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.SetLogLoggerLevel(slog.LevelInfo)

	registry, err := config.BuildRegistry(cfg, time.Now())
	if err != nil {
		return err
	}

	var classifier intent.Classifier = intent.NewLocalClassifier()
	var extractor extract.Extractor = extract.LocalExtractor{}
	if cfg.Model.APIKey != "" {
		cm, mErr := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Model,
			BaseURL: cfg.Model.BaseURL,
		})
		if mErr != nil {
			return mErr
		}
		toolClassifier, cErr := intent.NewToolBasedClassifier(cm)
		if cErr != nil {
			return cErr
		}
		toolExtractor, eErr := extract.NewToolBasedExtractor(cm)
		if eErr != nil {
			return eErr
		}
		classifier = intent.NewFallback(toolClassifier, intent.NewLocalClassifier())
		extractor = extract.NewFallback(toolExtractor, extract.LocalExtractor{})
	}

	var store session.Store
	if cfg.Store.Driver == "sqlite" {
		store, err = session.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return err
		}
	} else {
		store = session.NewMemoryStore()
	}

	sink := audit.NewBuffered(audit.SlogSink{}, 256)
	defer sink.Close()

	eng, err := engine.New(engine.Config{
		Registry:           registry,
		Classifier:         classifier,
		Extractor:          extract.Failsafe{Inner: extractor},
		Dispatcher:         dispatch.NewIdempotent(consoleDispatcher{}),
		Store:              store,
		Audit:              sink,
		MaxDispatchRetries: cfg.Engine.MaxDispatchRetries,
		IdleTimeout:        cfg.Engine.IdleTimeout,
	})
	if err != nil {
		return err
	}

	fmt.Println("Workplace assistant. Tell me what you need (e.g. \"I'd like to take some time off\"), or ctrl-d to quit.")
	reader := bufio.NewReader(os.Stdin)
	sessionID := xid.New().String()
	for {
		fmt.Print("you: ")
		input, rErr := reader.ReadString('\n')
		if rErr != nil {
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		reply, tErr := eng.ProcessTurn(ctx, sessionID, input)
		if tErr != nil {
			return tErr
		}
		fmt.Printf("assistant: %s\n", reply.Message)
		if reply.Done {
			// Each request is its own session.
			sessionID = xid.New().String()
			fmt.Println("------")
		}
	}
}

// consoleDispatcher stands in for a real backend: it prints the payload and
// returns a generated reference id.
type consoleDispatcher struct{}

func (consoleDispatcher) Execute(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	fmt.Printf("[dispatch] %s %s %v\n", req.RequestID, req.Intent, req.Slots)
	return &dispatch.Result{Success: true, ReferenceID: "REQ-" + xid.New().String()}, nil
}
