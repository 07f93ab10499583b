// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/kadirpekel/refinery/pkg/llmagent"
)

// previewLines bounds the artifact excerpt shown for approval.
const previewLines = 40

// terminalApprover asks the operator on the controlling terminal. Requests
// from concurrent runs are serialized.
type terminalApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	// interactive is false when stdin is not a terminal.
	interactive bool
}

func newTerminalApprover() *terminalApprover {
	return &terminalApprover{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

var errNotInteractive = errors.New("human approval requires an interactive terminal (set gate.approver to llm, auto_approve or auto_reject)")

func (a *terminalApprover) Approve(ctx context.Context, req llmagent.ApprovalRequest) (llmagent.Decision, error) {
	if !a.interactive {
		return llmagent.Decision{}, errNotInteractive
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(a.out, "\n=== Human approval required (iteration %d) ===\n", req.Artifact.Iteration)
	fmt.Fprintf(a.out, "Critical keywords: %s\n", strings.Join(req.Matched, ", "))
	if feedback := req.Evaluation.Feedback(); feedback != "" {
		fmt.Fprintf(a.out, "\nReview:\n%s\n", feedback)
	}
	fmt.Fprintf(a.out, "\nCode:\n%s\n", preview(req.Artifact.Content, previewLines))

	answer, err := a.ask(ctx, "Approve this change? [y/N]: ")
	if err != nil {
		return llmagent.Decision{}, err
	}
	if approved(answer) {
		return llmagent.Decision{Approved: true}, nil
	}

	comments, err := a.ask(ctx, "What should change? ")
	if err != nil {
		return llmagent.Decision{}, err
	}
	if comments == "" {
		comments = "Rejected by reviewer"
	}
	return llmagent.Decision{Comments: comments}, nil
}

// ask prints prompt and reads one line. A canceled ctx abandons the read.
func (a *terminalApprover) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)

	type line struct {
		text string
		err  error
	}
	ch := make(chan line, 1)
	go func() {
		text, err := a.in.ReadString('\n')
		ch <- line{strings.TrimSpace(text), err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && !(errors.Is(l.err, io.EOF) && l.text != "") {
			return "", fmt.Errorf("failed to read answer: %w", l.err)
		}
		return l.text, nil
	}
}

func approved(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

func preview(content string, max int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= max {
		return content
	}
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-max)
}
