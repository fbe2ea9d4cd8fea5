// --text-chat mode exercises the LLM turn-taking without any audio path,
// wiring pkg/orchestrator.Conversation (the teacher's single-process
// facade over Orchestrator.GenerateResponse/TextOnly) to a plain
// stdin/stdout REPL. Ctrl-D or an empty line on EOF ends the session.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/voxedge/agent/pkg/orchestrator"
)

func runTextChat(ctx context.Context, conv *orchestrator.Conversation, log orchestrator.Logger) int {
	fmt.Println("text-chat ready, type a message and press enter (Ctrl-D to quit)")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0

		case line, ok := <-lines:
			if !ok {
				return 0
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			response, err := conv.TextOnly(ctx, text)
			if err != nil {
				if ctx.Err() != nil {
					return 0
				}
				log.Error("agent: text-chat turn failed: %v", err)
				continue
			}
			fmt.Printf("> %s\n", response)
		}
	}
}
