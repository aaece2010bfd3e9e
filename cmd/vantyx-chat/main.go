// vantyx-chat is a terminal front-end for the assistant relay. It streams
// replies as they arrive, keeps a durable transcript and caches repeated
// questions locally.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/chat"
	"github.com/mujians/vantyx-assistant/pkg/config"
	"github.com/mujians/vantyx-assistant/pkg/session"
)

const firstVisitKey = "vantyx_visited"

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	topicsPath := flag.String("topics", "", "path to the topics knowledge file")
	flag.Parse()

	if err := run(*configPath, *topicsPath); err != nil {
		fmt.Fprintln(os.Stderr, "vantyx-chat:", err)
		os.Exit(1)
	}
}

func run(configPath, topicsPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir, err := expandHome(cfg.Client.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	logger, err := fileLogger(filepath.Join(dataDir, "chat.log"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	store, err := chat.NewLocalStore(dataDir)
	if err != nil {
		return err
	}

	transcript, err := session.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer transcript.Close()

	systemContext := chat.SystemContext(nil)
	if topicsPath != "" {
		topics, err := chat.LoadTopics(topicsPath)
		if err != nil {
			return err
		}
		systemContext = chat.SystemContext(topics)
	}

	var printed int
	client := chat.NewClient(cfg.Client.ServerURL, cfg.Client.Model,
		chat.NewResponseCache(store, logger.Named("cache")),
		logger.Named("client"),
		chat.WithSystemContext(systemContext),
		chat.WithFragmentHandler(func(m chat.Message) {
			// Print only the part not yet shown so the reply grows in place.
			if len(m.Content) > printed {
				fmt.Print(m.Content[printed:])
				printed = len(m.Content)
			}
		}),
	)

	greet(store)

	rl, err := readline.New("tu> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nA presto!")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "/reset" {
			client.Reset()
			fmt.Println("Conversazione azzerata.")
			continue
		}
		if text == "/quit" || text == "/exit" {
			fmt.Println("A presto!")
			return nil
		}

		printed = 0
		fmt.Print("vantyx> ")
		reply, err := client.Send(context.Background(), text)
		fmt.Println()
		if err != nil {
			if msg := client.LastError(); msg != "" {
				fmt.Println(msg)
			}
			continue
		}

		if err := transcript.Append("user", text); err != nil {
			logger.Warn("transcript append failed", zap.Error(err))
		}
		if err := transcript.Append("assistant", reply.Content); err != nil {
			logger.Warn("transcript append failed", zap.Error(err))
		}
	}
}

// greet prints the onboarding hint on the very first run only.
func greet(store *chat.LocalStore) {
	if _, seen := store.Get(firstVisitKey); seen {
		return
	}
	fmt.Println("Benvenuto! Sono l'assistente di Vantyx.")
	fmt.Println("Scrivi una domanda e premi invio. Comandi: /reset, /quit.")
	store.Set(firstVisitKey, []byte("true"))
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// fileLogger keeps structured logs out of the interactive terminal.
func fileLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	return cfg.Build()
}
