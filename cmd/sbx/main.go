package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"

	"sandboxd/internal/artifactory"
	"sandboxd/pkg/api"
	"sandboxd/pkg/sbxclient"
)

const defaultBaseURL = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	baseURL := fs.String("addr", defaultBaseURL, "sandboxd base URL")
	sid := fs.String("sid", "", "session id")
	attach := fs.Bool("attach", false, "attach to an existing sandbox only, never create")
	keepAlive := fs.Bool("keep-alive", false, "keep resources on failure and close, for debugging")
	debug := fs.Bool("debug", false, "enable debug mode in the sandbox")
	removeVolume := fs.Bool("remove-volume", false, "also delete the workspace volume")
	repoPath := fs.String("repo", "", "local checkout to detect the package ecosystem from")
	var envVars stringSlice
	var plugins stringSlice
	fs.Var(&envVars, "env", "environment variable (KEY=VALUE), repeatable")
	fs.Var(&plugins, "plugin", "sandbox plugin, repeatable")
	fs.Parse(os.Args[2:])

	client := sbxclient.New(*baseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "create":
		if *sid == "" {
			fatal("-sid is required")
		}
		envMap, err := parseEnvPairs(envVars)
		fatalIf(err)
		if *repoPath != "" {
			if repoType := artifactory.DetectRepositoryType(*repoPath); repoType != "" {
				if envMap == nil {
					envMap = map[string]string{}
				}
				envMap["REPO_TYPE"] = string(repoType)
			}
		}
		resp, err := client.Create(ctx, api.CreateSandboxRequest{
			SID:       *sid,
			Attach:    *attach,
			KeepAlive: *keepAlive,
			Debug:     *debug,
			Env:       envMap,
			Plugins:   plugins,
		})
		fatalIf(err)
		fmt.Printf("sid=%s namespace=%s pod=%s status=%s\n", resp.SID, resp.Namespace, resp.PodName, resp.Status)
		fmt.Printf("api_url=%s\neditor_url=%s\n", resp.APIURL, resp.EditorURL)
	case "status":
		if *sid == "" {
			fatal("-sid is required")
		}
		resp, err := client.Status(ctx, *sid)
		fatalIf(err)
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SID\tPOD\tPHASE\tSTATUS\tDETAIL")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", resp.SID, resp.PodName, resp.Phase, resp.Status, resp.Detail)
		_ = w.Flush()
	case "delete":
		if *sid == "" {
			fatal("-sid is required")
		}
		fatalIf(client.Delete(ctx, *sid, *removeVolume))
		fmt.Println("deleted")
	case "events":
		if *sid == "" {
			fatal("-sid is required")
		}
		streamEvents(*baseURL, *sid)
	default:
		usage()
		os.Exit(1)
	}
}

func streamEvents(baseURL, sid string) {
	u, err := url.Parse(baseURL)
	fatalIf(err)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/sandboxes/" + sid + "/events"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	fatalIf(err)
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(msg))
	}
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := map[string]string{}
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env pair %q, expected KEY=VALUE", pair)
		}
		out[key] = val
	}
	return out, nil
}

type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sbx <command> [flags]

commands:
  create   provision or attach to a sandbox
  status   show a sandbox's pod phase and runtime status
  delete   tear down a sandbox (-remove-volume to drop the workspace)
  events   stream runtime status transitions`)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatalIf(err error) {
	if err != nil {
		fatal(err.Error())
	}
}
