// ABOUTME: Admin CLI for talking to a running cursor-discord-bridge daemon
// ABOUTME: Discovers the daemon over loopback and drives its HTTP API

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cursor-discord-bridge/internal/discovery"
)

const banner = `
 _          _     _                          _           _
| |__  _ __(_) __| | __ _  ___          __ _| | _ _  _  (_)_ _
| '_ \| '__| |/ _' |/ _' |/ _ \  _____ / _' | |/ ' \| | | | ' \
| |_) | |  | | (_| | (_| |  __/ |_____| (_| | | | | | | | | | |
|_.__/|_|  |_|\__,_|\__, |\___|        \__,_|_|_|_|_|_| |_|_|_|
                    |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "discover":
		err = cmdDiscover(ctx)
	case "health":
		err = cmdHealth(ctx)
	case "active":
		err = cmdActive(ctx)
	case "post":
		err = cmdPost(ctx, args)
	case "message":
		err = cmdMessage(ctx, args)
	case "create-thread":
		err = cmdCreateThread(ctx, args)
	case "rename-thread":
		err = cmdRenameThread(ctx, args)
	case "ask":
		err = cmdAsk(ctx, args)
	case "reconnect":
		err = cmdReconnect(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: bridge-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  discover                       Find the daemon serving this workspace")
	fmt.Println("  health                         Show daemon health")
	fmt.Println("  active                         Show the active thread binding")
	fmt.Println("  post <thread-id> <message>     Post a message to a thread")
	fmt.Println("  message <conv-id> <message>    Inject a message into an IDE conversation")
	fmt.Println("  create-thread <name> [conv-id] Create a thread")
	fmt.Println("  rename-thread <thread-id> <name>")
	fmt.Println("  ask <thread-id> <question> <opt1,opt2,...>")
	fmt.Println("  reconnect                      Force a Discord reconnect")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  WORKSPACE_FOLDER_PATHS   Comma-separated workspace folders used for discovery")
	fmt.Println()
}

func baseURL(ctx context.Context) (string, error) {
	return discovery.NewClient().BaseURL(ctx, discovery.FoldersFromEnv())
}

// call posts a JSON body to path and decodes the daemon's envelope.
func call(ctx context.Context, path string, body, out any) error {
	base, err := baseURL(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unexpected response from daemon: %s", strings.TrimSpace(string(data)))
	}
	if !envelope.Success {
		return fmt.Errorf("%s", envelope.Error)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func cmdDiscover(ctx context.Context) error {
	base, err := baseURL(ctx)
	if err != nil {
		return err
	}
	fmt.Println(base)
	return nil
}

func cmdHealth(ctx context.Context) error {
	base, err := baseURL(ctx)
	if err != nil {
		return err
	}
	health, err := discovery.NewClient().Probe(ctx, base)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("Daemon:    %s\n", base)
	fmt.Printf("Workspace: %s\n", health.WorkspaceName)
	for _, f := range health.WorkspaceFolders {
		fmt.Printf("Folder:    %s\n", f)
	}
	if health.DiscordConnected {
		green.Println("Discord:   connected")
	} else {
		color.Yellow("Discord:   disconnected")
	}
	return nil
}

func cmdActive(ctx context.Context) error {
	var out struct {
		ThreadID string `json:"threadId"`
		ChatID   string `json:"chatId"`
		Method   string `json:"method"`
	}
	base, err := baseURL(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/get-active-thread-id", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(data)))
	}
	if !envelope.Success {
		return fmt.Errorf("%s", envelope.Error)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}

	fmt.Printf("Thread:       %s\n", out.ThreadID)
	fmt.Printf("Conversation: %s\n", out.ChatID)
	fmt.Printf("Method:       %s\n", out.Method)
	return nil
}

func cmdPost(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: bridge-admin post <thread-id> <message>")
	}
	return call(ctx, "/api/post-to-thread", map[string]string{
		"threadId": args[0],
		"message":  strings.Join(args[1:], " "),
	}, nil)
}

func cmdMessage(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: bridge-admin message <conversation-id> <message>")
	}
	return call(ctx, "/message", map[string]string{
		"conversationId": args[0],
		"message":        strings.Join(args[1:], " "),
	}, nil)
}

func cmdCreateThread(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bridge-admin create-thread <name> [conversation-id]")
	}
	body := map[string]string{"name": args[0]}
	if len(args) > 1 {
		body["conversationId"] = args[1]
	}
	var out struct {
		ThreadID string `json:"threadId"`
	}
	if err := call(ctx, "/api/create-thread", body, &out); err != nil {
		return err
	}
	fmt.Println(out.ThreadID)
	return nil
}

func cmdRenameThread(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bridge-admin rename-thread <thread-id> <name>")
	}
	return call(ctx, "/api/rename-thread", map[string]string{
		"threadId": args[0],
		"name":     args[1],
	}, nil)
}

func cmdAsk(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: bridge-admin ask <thread-id> <question> <opt1,opt2,...>")
	}
	type option struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	var options []option
	for i, label := range strings.Split(args[2], ",") {
		options = append(options, option{ID: fmt.Sprintf("opt-%d", i+1), Label: strings.TrimSpace(label)})
	}

	var out struct {
		ResponseType      string   `json:"responseType"`
		SelectedOptionIDs []string `json:"selectedOptionIds"`
		TextResponse      string   `json:"textResponse"`
	}
	// Questions block until answered; give the user time.
	askCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := call(askCtx, "/api/ask-question", map[string]any{
		"threadId": args[0],
		"question": args[1],
		"options":  options,
	}, &out); err != nil {
		return err
	}
	if out.TextResponse != "" {
		fmt.Println(out.TextResponse)
		return nil
	}
	fmt.Println(strings.Join(out.SelectedOptionIDs, ","))
	return nil
}

func cmdReconnect(ctx context.Context) error {
	if err := call(ctx, "/api/reconnect", map[string]string{}, nil); err != nil {
		return err
	}
	color.Green("Reconnected.")
	return nil
}
