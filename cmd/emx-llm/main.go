// Package main is the entry point for the emx-llm command-line client
// (spec §6). Grounded in the teacher's cmd/llmrouter/main.go for overall
// shape (load config, wire the pieces, fail loudly) and in the
// taipm-go-deep-agent chatbot_cli.go example for the interactive
// bufio.NewScanner(os.Stdin) REPL loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/dispatcher"
	"github.com/coreseekdev/emx-llm/internal/errs"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "emx-llm:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: emx-llm <chat|test> [flags] [query text]")
}

// chatFlags holds the chat subcommand's flags: --provider selects
// the model reference to resolve (spec §4.4); --model and --api-base
// override fields of the resolved EffectiveConfig for one-off runs.
type chatFlags struct {
	provider string
	model    string
	apiBase  string
	stream   bool
	prompt   string
}

func bindChatFlags(fs *flag.FlagSet) *chatFlags {
	f := &chatFlags{}
	fs.StringVar(&f.provider, "provider", "", "model reference to resolve, e.g. openai or anthropic.claude.opus")
	fs.StringVar(&f.model, "model", "", "override the resolved model id")
	fs.StringVar(&f.apiBase, "api-base", "", "override the resolved api_base")
	fs.BoolVar(&f.stream, "stream", false, "stream the reply via chat_stream instead of chat")
	fs.StringVar(&f.prompt, "prompt", "", "path to a file whose contents are sent as a system message")
	return f
}

// resolve loads the config tree and resolves --provider into an
// EffectiveConfig, applying any --model/--api-base overrides.
func (f *chatFlags) resolve() (*resolver.EffectiveConfig, error) {
	if f.provider == "" {
		return nil, fmt.Errorf("-provider is required")
	}
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	ec, err := resolver.Resolve(cfg.Root, f.provider)
	if err != nil {
		return nil, err
	}
	if f.model != "" {
		ec.Model = f.model
	}
	if f.apiBase != "" {
		ec.APIBase = f.apiBase
	}
	return ec, nil
}

// systemMessages reads --prompt, if set, into a leading system message.
func (f *chatFlags) systemMessages() ([]message.Message, error) {
	if f.prompt == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(f.prompt)
	if err != nil {
		return nil, fmt.Errorf("reading -prompt file: %w", err)
	}
	return []message.Message{message.System(string(raw))}, nil
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	f := bindChatFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ec, err := f.resolve()
	if err != nil {
		return err
	}
	leading, err := f.systemMessages()
	if err != nil {
		return err
	}

	query := strings.Join(fs.Args(), " ")
	client := dispatcher.New(nil)

	if query != "" {
		return runOneShot(client, *ec, leading, query, f.stream)
	}
	return runInteractive(client, *ec, leading, f.stream)
}

// runOneShot sends a single query and prints the reply.
func runOneShot(client *dispatcher.Client, ec resolver.EffectiveConfig, leading []message.Message, query string, stream bool) error {
	msgs := append(append([]message.Message{}, leading...), message.User(query))
	ctx := context.Background()

	if stream {
		events, err := client.ChatStream(ctx, ec, msgs)
		if err != nil {
			return err
		}
		for ev := range events {
			if ev.Err != nil {
				return ev.Err
			}
			fmt.Print(ev.Delta)
			if ev.Done {
				break
			}
		}
		fmt.Println()
		return nil
	}

	reply, u, err := client.Chat(ctx, ec, msgs)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	fmt.Fprintf(os.Stderr, "tokens: prompt=%d completion=%d\n", u.PromptTokens, u.CompletionTokens)
	return nil
}

// runInteractive drives the REPL: a bufio.Scanner over stdin, one turn
// per line, "clear" resets history, "exit"/"quit"/EOF terminates.
func runInteractive(client *dispatcher.Client, ec resolver.EffectiveConfig, leading []message.Message, stream bool) error {
	history := append([]message.Message{}, leading...)
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("emx-llm chat — %s (%s). Type 'exit' or 'quit' to leave, 'clear' to reset history.\n", ec.Path, ec.Kind)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "exit", "quit":
			return nil
		case "clear":
			history = append([]message.Message{}, leading...)
			fmt.Println("history cleared")
			continue
		}

		history = append(history, message.User(line))
		ctx := context.Background()

		if stream {
			events, err := client.ChatStream(ctx, ec, history)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			var reply strings.Builder
			for ev := range events {
				if ev.Err != nil {
					fmt.Fprintln(os.Stderr, "error:", ev.Err)
					break
				}
				fmt.Print(ev.Delta)
				reply.WriteString(ev.Delta)
				if ev.Done {
					break
				}
			}
			fmt.Println()
			history = append(history, message.Assistant(reply.String()))
			continue
		}

		reply, _, err := client.Chat(ctx, ec, history)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(reply)
		history = append(history, message.Assistant(reply))
	}
}

// runTest resolves --provider and sends a trivial chat call to confirm
// the configured endpoint and credential actually work end to end.
func runTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var provider string
	fs.StringVar(&provider, "provider", "", "model reference to resolve and test")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if provider == "" {
		return fmt.Errorf("-provider is required")
	}

	cfg, err := config.Load(config.Options{})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ec, err := resolver.Resolve(cfg.Root, provider)
	if err != nil {
		return err
	}

	fmt.Println(ec.String())

	client := dispatcher.New(nil)
	reply, u, err := client.Chat(context.Background(), *ec, []message.Message{message.User("ping")})
	if err != nil {
		if kind, ok := errs.KindOf(err); ok {
			return fmt.Errorf("%s: %w", kind, err)
		}
		return err
	}

	fmt.Printf("ok: reply=%q tokens(prompt=%d,completion=%d)\n", reply, u.PromptTokens, u.CompletionTokens)
	return nil
}
