package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/GratefulDave/stravinsky-sub003/internal/gitcontext"
	"github.com/GratefulDave/stravinsky-sub003/internal/router"
	"github.com/GratefulDave/stravinsky-sub003/internal/state"
	"github.com/GratefulDave/stravinsky-sub003/internal/supervisor"
	"github.com/GratefulDave/stravinsky-sub003/pkg/providerauth"
	"github.com/GratefulDave/stravinsky-sub003/pkg/providerclient"
	"golang.org/x/oauth2"
)

// buildInvoker wires a providerclient.FallbackInvoker around whatever
// CLI the operator configured via BRIDGEORCH_PROVIDER_CMD (default:
// "cat", which just echoes the prompt back and is only useful for
// smoke-testing the phase machine without a real model behind it).
// Credential rotation is handled by providerauth.TokenCache: the static
// API key configured via BRIDGEORCH_PROVIDER_API_KEY is always
// available as the attempt-1 fallback; a real deployment supplies an
// oauth2.TokenSource instead of the noopTokenSource used here, which
// never yields a token.
func buildInvoker() providerclient.Invoker {
	apiKey := os.Getenv("BRIDGEORCH_PROVIDER_API_KEY")
	tokens := providerauth.NewTokenCache(noopTokenSource{}, apiKey)

	cmdName := os.Getenv("BRIDGEORCH_PROVIDER_CMD")
	if cmdName == "" {
		cmdName = "cat"
	}

	return providerclient.NewFallbackInvoker(providerclient.DefaultFallbackConfig(), tokens,
		func(ctx context.Context, cred providerauth.Credential, provider, model, prompt string, opts providerclient.Options) ([]byte, error) {
			cmd := exec.CommandContext(ctx, cmdName)
			cmd.Stdin = bytes.NewBufferString(prompt)
			cmd.Env = append(os.Environ(), "BRIDGEORCH_PROVIDER_CREDENTIAL="+cred.Value)
			var out bytes.Buffer
			cmd.Stdout = &out
			if err := cmd.Run(); err != nil {
				return nil, fmt.Errorf("invoking provider command %q: %w", cmdName, err)
			}
			return out.Bytes(), nil
		},
	)
}

type noopTokenSource struct{}

func (noopTokenSource) Token() (*oauth2.Token, error) {
	return nil, fmt.Errorf("no oauth token source configured")
}

// buildHooks implements router.Hooks: the five artifact-producing
// phases call the provider invoker directly (the orchestrator reasons
// about the request itself); Execute spawns one real child process per
// delegated task through the Supervisor, so the timing-window and
// concurrency machinery are exercised for every request.
func buildHooks(invoker providerclient.Invoker, sup *supervisor.Supervisor, agentCmd string, agentArgs []string) router.Hooks {
	callModel := func(ctx context.Context, phaseName, prompt string) ([]byte, error) {
		return invoker.Invoke(ctx, "default", "default", fmt.Sprintf("[%s]\n%s", phaseName, prompt), providerclient.Options{})
	}

	return router.Hooks{
		Classify: func(ctx context.Context, request string) ([]byte, error) {
			return callModel(ctx, "classify", request)
		},
		Context: func(ctx context.Context, s *state.State) ([]byte, error) {
			prompt := summarizeArtifacts(s)
			if snap, err := gitcontext.Gather(".", gitcontext.DefaultMaxCommits); err == nil {
				if body, err := snap.Describe(); err == nil {
					prompt = "-- repository --\n" + string(body) + "\n" + prompt
				}
			}
			return callModel(ctx, "context", prompt)
		},
		Plan: func(ctx context.Context, s *state.State) ([]byte, []router.TaskSpec, error) {
			plan, err := callModel(ctx, "plan", summarizeArtifacts(s))
			if err != nil {
				return nil, nil, err
			}
			return plan, nil, nil
		},
		Validate: func(ctx context.Context, s *state.State, tasks []router.TaskSpec) (bool, error) {
			if _, err := callModel(ctx, "validate", summarizeArtifacts(s)); err != nil {
				return false, err
			}
			return true, nil
		},
		Execute: func(ctx context.Context, task router.TaskSpec) (any, error) {
			handle, err := sup.Spawn(ctx, supervisor.SpawnSpec{
				TaskID:     task.ID,
				Kind:       task.Kind,
				ParentKind: "orchestrator",
				Command:    agentCmd,
				Args:       agentArgs,
				Prompt:     task.Description,
			})
			if err != nil {
				return nil, err
			}
			handle.Wait()
			if handle.Status() != supervisor.ChildCompleted {
				return nil, handle.Err()
			}
			return handle.Status(), nil
		},
		Verify: func(ctx context.Context, s *state.State, results map[string]any) ([]byte, error) {
			return callModel(ctx, "verify", fmt.Sprintf("%d task result(s) to verify", len(results)))
		},
	}
}

// knownArtifactNames are the artifacts the router registers up to the
// Delegate phase (the optional wisdom artifact aside);
// summarizeArtifacts folds whichever of these are present so far into
// one prompt body for the next phase call.
var knownArtifactNames = []string{"classification", "context", "plan", "validation"}

func summarizeArtifacts(s *state.State) string {
	var buf bytes.Buffer
	for _, name := range knownArtifactNames {
		if a, ok := s.Artifact(name); ok {
			_, _ = io.WriteString(&buf, fmt.Sprintf("-- %s --\n%s\n", name, a.Content))
		}
	}
	return buf.String()
}
